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

package errors

import "errors"

var (
	ErrLockLost = errors.New("advisory lock lost or contended")

	ErrStorageUnitNotFound = errors.New("storage unit not found")

	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")

	ErrInvariantViolation = errors.New("cache consistency invariant violated")
)

// New and Is mirror the small subset of github.com/cubefs/cubefs/blobstore/util/errors
// used throughout this module, so call sites read the same way regardless of
// whether they wrap a sentinel or construct a fresh message.
func New(msg string) error {
	return errors.New(msg)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}
