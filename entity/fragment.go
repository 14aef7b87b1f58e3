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

package entity

// Fragment is a rectangle in (series, time) space owned by one master
// storage unit. FakeMasterId carries a caller-chosen placeholder id until
// the fragment manager resolves it to a real StorageUnit id during
// bootstrap/creation (spec.md §4.4/§9).
type Fragment struct {
	TsInterval   TimeSeriesInterval
	TimeInterval TimeInterval

	MasterStorageUnitId string
	FakeMasterId        string

	CreatorId uint64
	UpdaterId uint64
	Initial   bool
}

// Ended returns a copy of f with its TimeInterval closed at endTime, the
// "end-fragment" operation from spec.md §4.4.
func (f *Fragment) Ended(endTime int64) *Fragment {
	c := *f
	c.TimeInterval = TimeInterval{StartTime: f.TimeInterval.StartTime, EndTime: endTime}
	return &c
}

func (f *Fragment) Clone() *Fragment {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
