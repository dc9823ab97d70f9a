// Copyright 2026 The MySQL MCP Gateway Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memwatch

// leakWindow bounds how many recent samples the regression considers.
const leakWindow = 20

// leakSlopeRatio is the slope/baseline threshold above which heap growth
// counts as a leak suspicion.
const leakSlopeRatio = 0.05

// heapSlopeSuspicious fits a least-squares line through the recent
// heap-used series and flags when the per-sample slope exceeds 5% of the
// series mean.
func heapSlopeSuspicious(history []Snapshot) bool {
	n := len(history)
	if n < 5 {
		return false
	}
	if n > leakWindow {
		history = history[n-leakWindow:]
		n = leakWindow
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, s := range history {
		x := float64(i)
		y := float64(s.HeapUsed)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return false
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	baseline := sumY / fn
	if baseline <= 0 {
		return false
	}
	return slope/baseline > leakSlopeRatio
}
