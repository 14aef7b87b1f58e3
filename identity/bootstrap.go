// Copyright 2024 The ChronoGraph Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package identity

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/entity"
	"github.com/chronograph-db/metacore/store"
)

// Self describes this front-end node's resolved identity after Bootstrap.
type Self struct {
	Node *entity.FrontEndNode
	Ids  *IdGenerator
}

// Bootstrap registers this node's (host, port) with the MetaStore, loads
// every previously-registered node into cache, and seeds a local id
// generator with the id the store assigned. It must run before any other
// module touches the store.
func Bootstrap(ctx context.Context, st store.MetaStore, c *cache.Cache, host string, port int) (*Self, error) {
	span := trace.SpanFromContext(ctx)

	id, err := st.RegisterNode(ctx, &entity.FrontEndNode{Host: host, Port: port})
	if err != nil {
		return nil, errors.Info(err, "register front-end node failed")
	}
	self := &entity.FrontEndNode{Id: id, Host: host, Port: port}
	c.AddNode(self)

	nodes, err := st.LoadNodes(ctx)
	if err != nil {
		return nil, errors.Info(err, "load front-end nodes failed")
	}
	for nid, n := range nodes {
		if nid == id {
			continue
		}
		c.AddNode(n)
	}

	st.OnNodeChange(func(nid uint64, n *entity.FrontEndNode) {
		if nid == id {
			return
		}
		if n == nil {
			c.RemoveNode(nid)
			return
		}
		c.AddNode(n)
	})

	gen, err := NewIdGenerator(id)
	if err != nil {
		return nil, errors.Info(err, "seed id generator failed")
	}

	span.Infof("front-end node bootstrapped, id %d, addr %s:%d", id, host, port)
	return &Self{Node: self, Ids: gen}, nil
}
