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

package invite

import (
	"context"
	"time"

	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/setup/config"
)

// State is the state of a single invite acceptance run.
type State int

const (
	StateReceived State = iota
	StateRejected
	StateJoining
	StateJoined
	StateAbandoned
	// StateIgnored is returned for invites of some other user. The state
	// machine is never entered for them.
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRejected:
		return "rejected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateAbandoned:
		return "abandoned"
	case StateIgnored:
		return "ignored"
	}
	return "unknown"
}

var invitesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "warden",
	Subsystem: "invite",
	Name:      "invites_total",
	Help:      "Number of invites handled, by final state",
}, []string{"state"})

// Joiner joins rooms on behalf of the bot.
type Joiner interface {
	UserID() string
	JoinRoom(ctx context.Context, roomID string) error
}

// Acceptor accepts invites from allow-listed users, retrying the join with
// exponential backoff until the delay exceeds the configured maximum.
type Acceptor struct {
	Joiner Joiner
	Cfg    *config.Moderation
	// Sleep waits between join attempts. It is not interrupted by context
	// cancellation, so a run in progress is only stopped by its terminal
	// state. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

func NewAcceptor(joiner Joiner, cfg *config.Moderation) *Acceptor {
	return &Acceptor{
		Joiner: joiner,
		Cfg:    cfg,
		Sleep:  time.Sleep,
	}
}

// Handle runs the invite state machine for a single invite to roomID and
// returns the terminal state it ended in. Failures are logged, not returned.
func (a *Acceptor) Handle(ctx context.Context, roomID, inviter, invitee string) State {
	logger := util.GetLogger(ctx).WithFields(logrus.Fields{
		"room_id": roomID,
		"inviter": inviter,
	})
	if invitee != a.Joiner.UserID() {
		logger.WithField("invitee", invitee).Debug("Ignoring invite for another user")
		return StateIgnored
	}
	state := a.run(ctx, logger, roomID, inviter)
	invitesTotal.WithLabelValues(state.String()).Inc()
	return state
}

func (a *Acceptor) run(ctx context.Context, logger *logrus.Entry, roomID, inviter string) State {
	if !a.Cfg.InviteAllowed(inviter) {
		logger.Info("Rejecting invite from user not in allow_invites")
		return StateRejected
	}

	sleep := a.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	delay := a.Cfg.InviteBackoff.InitialDelay
	for attempt := 1; ; attempt++ {
		err := a.Joiner.JoinRoom(ctx, roomID)
		if err == nil {
			logger.WithField("attempts", attempt).Info("Joined room after invite")
			return StateJoined
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   delay,
		}).Warn("Failed to join room, retrying")
		sleep(delay)
		delay *= 2
		if delay > a.Cfg.InviteBackoff.MaxDelay {
			logger.WithField("attempts", attempt).Error("Giving up joining room")
			return StateAbandoned
		}
	}
}
