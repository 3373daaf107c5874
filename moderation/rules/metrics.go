// Copyright 2024 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ruleFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "warden",
	Subsystem: "rules",
	Name:      "fetches_total",
	Help:      "Number of successful rule list reads",
})

var ruleErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "warden",
	Subsystem: "rules",
	Name:      "errors_total",
	Help:      "Number of rule lists or rules skipped, by reason",
}, []string{"reason"})
