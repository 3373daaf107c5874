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

package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/enforce"
	"github.com/matrix-org/warden/moderation/entity"
	"github.com/matrix-org/warden/moderation/rules"
	"github.com/matrix-org/warden/setup/config"
)

// historyLimit is how many records the history command shows.
const historyLimit = 10

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "warden",
	Subsystem: "commands",
	Name:      "commands_total",
	Help:      "Number of commands handled, by command",
}, []string{"command"})

// HistoryReader looks up previously applied actions.
type HistoryReader interface {
	SelectActionsForUser(ctx context.Context, userID string, limit int) ([]api.EnforcementRecord, error)
}

// Dispatcher parses chat commands from moderators, writes rules and
// enforces them retroactively.
type Dispatcher struct {
	Cfg      *config.Moderation
	Protocol api.ProtocolAPI
	Rules    *rules.Aggregator
	Applier  *enforce.Applier
	// History is optional. Without it the history command is unavailable.
	History HistoryReader
}

func NewDispatcher(
	cfg *config.Moderation, protocol api.ProtocolAPI,
	aggregator *rules.Aggregator, applier *enforce.Applier, history HistoryReader,
) *Dispatcher {
	return &Dispatcher{
		Cfg:      cfg,
		Protocol: protocol,
		Rules:    aggregator,
		Applier:  applier,
		History:  history,
	}
}

// command is a parsed chat command. Args excludes the prefix and the verb.
type command struct {
	roomID  string
	eventID string
	sender  string
	verb    string
	args    []string
}

// Handle handles a single chat message. Messages that do not start with the
// command prefix, and messages from anyone but a moderator, are ignored. The
// returned error is only set if a reply could not be sent.
func (d *Dispatcher) Handle(ctx context.Context, roomID, eventID, sender, body string) error {
	tokens := strings.Fields(body)
	if len(tokens) == 0 || tokens[0] != d.Cfg.CommandPrefix {
		return nil
	}
	logger := util.GetLogger(ctx).WithFields(logrus.Fields{
		"room_id":  roomID,
		"event_id": eventID,
		"sender":   sender,
	})
	if sender == d.Protocol.UserID() {
		return nil
	}
	if !d.Cfg.IsModerator(sender) {
		logger.Debug("Ignoring command from non-moderator")
		return nil
	}

	cmd := &command{roomID: roomID, eventID: eventID, sender: sender}
	if len(tokens) > 1 {
		cmd.verb = tokens[1]
		cmd.args = tokens[2:]
	}
	ctx = util.ContextWithLogger(ctx, logger)

	switch cmd.verb {
	case "", "help":
		commandsTotal.WithLabelValues("help").Inc()
		return d.reply(ctx, cmd, d.helpText())
	case "ban", "kick", "mute":
		commandsTotal.WithLabelValues(cmd.verb).Inc()
		action, _ := api.ParseAction(cmd.verb)
		return d.addRule(ctx, cmd, action)
	case "rules":
		commandsTotal.WithLabelValues("rules").Inc()
		return d.listRules(ctx, cmd)
	case "history":
		commandsTotal.WithLabelValues("history").Inc()
		return d.history(ctx, cmd)
	default:
		commandsTotal.WithLabelValues("unknown").Inc()
		return d.reply(ctx, cmd, fmt.Sprintf("Unrecognized command %q, please try again or see %s help for available commands.", cmd.verb, d.Cfg.CommandPrefix))
	}
}

func (d *Dispatcher) helpText() string {
	p := d.Cfg.CommandPrefix
	lists := make([]string, 0, len(d.Cfg.RuleLists))
	for _, list := range d.Cfg.RuleLists {
		lists = append(lists, list.Shortcode)
	}
	return strings.Join([]string{
		p + " help - show this message",
		p + " ban <list> <entity> [reason] - ban matching users from protected rooms",
		p + " kick <list> <entity> [reason] - kick matching users from protected rooms",
		p + " mute <list> <entity> [reason] - stop matching users from sending messages",
		p + " rules <list> - show the rules held by a list",
		p + " history <user> - show recent actions taken against a user",
		"",
		"An entity is a user pattern like @spam*:example.com or a server pattern like *.example.com.",
		"Lists: " + strings.Join(lists, ", "),
	}, "\n")
}

func (d *Dispatcher) addRule(ctx context.Context, cmd *command, action api.Action) error {
	if len(cmd.args) < 2 {
		return d.reply(ctx, cmd, fmt.Sprintf("Usage: %s %s <list> <entity> [reason]", d.Cfg.CommandPrefix, cmd.verb))
	}
	shortcode, pattern := cmd.args[0], cmd.args[1]
	reason := strings.Join(cmd.args[2:], " ")

	if _, err := entity.Parse(pattern); err != nil {
		return d.reply(ctx, cmd, err.Error())
	}
	ruleRoom, ok := d.Cfg.RuleListRoom(shortcode)
	if !ok {
		return d.reply(ctx, cmd, fmt.Sprintf("Unknown rule list %q", shortcode))
	}

	rule := api.Rule{Entity: pattern, Action: action, Reason: reason}
	if err := d.Protocol.SendStateEvent(ctx, ruleRoom, api.RuleEventType, pattern, rule); err != nil {
		util.GetLogger(ctx).WithError(err).WithField("rule_room", ruleRoom).Error("Failed to write rule")
		return d.reply(ctx, cmd, fmt.Sprintf("Failed to write rule to %s: %s", shortcode, err))
	}
	if err := d.reply(ctx, cmd, fmt.Sprintf("Added rule to %s: %s", shortcode, formatRule(rule))); err != nil {
		return err
	}

	errs := d.Sweep(ctx)
	if len(errs) == 0 {
		return nil
	}
	lines := make([]string, 0, len(errs)+1)
	lines = append(lines, "Errors while enforcing rules:")
	for _, err := range errs {
		lines = append(lines, err.Error())
	}
	return d.reply(ctx, cmd, strings.Join(lines, "\n"))
}

// Sweep evaluates every current member of every protected room against a
// single snapshot of the rule lists and applies the resolved actions.
// Protected rooms are walked concurrently. Actions that were already applied
// are not errors.
func (d *Dispatcher) Sweep(ctx context.Context) []error {
	set := d.Rules.Snapshot(ctx, d.Cfg.RuleRooms())
	botUserID := d.Protocol.UserID()

	var mu sync.Mutex
	var errs []error
	addErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	var g errgroup.Group
	g.SetLimit(d.Cfg.SweepConcurrency)
	for _, roomID := range d.Cfg.ProtectedRooms {
		roomID := roomID
		g.Go(func() error {
			members, err := d.Protocol.JoinedMembers(ctx, roomID)
			if err != nil {
				addErr(fmt.Errorf("failed to list members of %s: %w", roomID, err))
				return nil
			}
			for _, userID := range members {
				if userID == botUserID {
					continue
				}
				identity, err := api.NewIdentity(userID)
				if err != nil {
					continue
				}
				rule, ok := rules.Resolve(set.For(identity))
				if !ok {
					continue
				}
				err = d.Applier.Enforce(ctx, roomID, identity, rule, api.TriggerCommand)
				if err != nil && !errors.Is(err, enforce.ErrAlreadyApplied) {
					addErr(err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (d *Dispatcher) listRules(ctx context.Context, cmd *command) error {
	if len(cmd.args) < 1 {
		return d.reply(ctx, cmd, fmt.Sprintf("Usage: %s rules <list>", d.Cfg.CommandPrefix))
	}
	shortcode := cmd.args[0]
	ruleRoom, ok := d.Cfg.RuleListRoom(shortcode)
	if !ok {
		return d.reply(ctx, cmd, fmt.Sprintf("Unknown rule list %q", shortcode))
	}
	list, err := d.Rules.ListRules(ctx, ruleRoom)
	if err != nil {
		return d.reply(ctx, cmd, fmt.Sprintf("Failed to read rules from %s: %s", shortcode, err))
	}
	if len(list) == 0 {
		return d.reply(ctx, cmd, fmt.Sprintf("List %s has no rules", shortcode))
	}
	lines := []string{fmt.Sprintf("List %s has %d rules:", shortcode, len(list))}
	for _, rule := range list {
		lines = append(lines, formatRule(rule))
	}
	return d.reply(ctx, cmd, strings.Join(lines, "\n"))
}

func (d *Dispatcher) history(ctx context.Context, cmd *command) error {
	if len(cmd.args) < 1 {
		return d.reply(ctx, cmd, fmt.Sprintf("Usage: %s history <user>", d.Cfg.CommandPrefix))
	}
	if d.History == nil {
		return d.reply(ctx, cmd, "Enforcement history is not enabled")
	}
	userID, err := spec.NewUserID(cmd.args[0], true)
	if err != nil {
		return d.reply(ctx, cmd, fmt.Sprintf("Invalid user ID %q", cmd.args[0]))
	}
	records, err := d.History.SelectActionsForUser(ctx, userID.String(), historyLimit)
	if err != nil {
		util.GetLogger(ctx).WithError(err).Error("Failed to read enforcement history")
		return d.reply(ctx, cmd, "Failed to read enforcement history")
	}
	if len(records) == 0 {
		return d.reply(ctx, cmd, fmt.Sprintf("No actions have been taken against %s", userID.String()))
	}
	lines := []string{fmt.Sprintf("Recent actions against %s:", userID.String())}
	for _, r := range records {
		line := fmt.Sprintf("%s %s in %s", r.Timestamp.Time().UTC().Format("2006-01-02 15:04:05"), r.Action, r.RoomID)
		if r.Entity != "" {
			line += " matching " + r.Entity
		}
		if r.Reason != "" {
			line += ": " + r.Reason
		}
		lines = append(lines, line)
	}
	return d.reply(ctx, cmd, strings.Join(lines, "\n"))
}

func formatRule(rule api.Rule) string {
	s := rule.Action.String() + " " + rule.Entity
	if rule.Reason != "" {
		s += ": " + rule.Reason
	}
	return s
}

// reply sends a notice to the command's room in reply to the command. The
// HTML body is the plain body escaped, with line breaks kept.
func (d *Dispatcher) reply(ctx context.Context, cmd *command, body string) error {
	formatted := strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")
	if err := d.Protocol.SendNotice(ctx, cmd.roomID, body, formatted, cmd.eventID); err != nil {
		return fmt.Errorf("d.Protocol.SendNotice: %w", err)
	}
	return nil
}
