// Package moderation defines the ModerationRecord entity, the
// AdaptiveTermSet banned-term evaluator, and the strike/mute/ban ladder
// described in spec.md §3/§4.10.
package moderation

import (
	"strings"
	"time"
)

// Record is a player's moderation state: strikes, mute window, and the
// rooms they are banned from. History is a bounded ring buffer of recent
// moderation events for admin visibility.
type Record struct {
	PlayerID  string     `json:"playerId"`
	Strikes   int        `json:"strikes"`
	MuteUntil *time.Time `json:"muteUntil,omitempty"`
	BanRooms  map[string]bool `json:"banRooms,omitempty"`
	History   []Event    `json:"history,omitempty"`
}

const maxHistory = 50

// Event is one entry in a player's moderation history ring buffer.
type Event struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"` // "warning" | "mute" | "ban" | "clear"
	Detail  string    `json:"detail,omitempty"`
}

func (r *Record) appendHistory(e Event) {
	r.History = append(r.History, e)
	if len(r.History) > maxHistory {
		r.History = r.History[len(r.History)-maxHistory:]
	}
}

// IsMuted reports whether the player is currently muted.
func (r *Record) IsMuted(now time.Time) bool {
	return r.MuteUntil != nil && now.Before(*r.MuteUntil)
}

// IsBannedFrom reports whether the player is banned from roomID.
func (r *Record) IsBannedFrom(roomID string) bool {
	return r.BanRooms != nil && r.BanRooms[roomID]
}

// Thresholds configures the strike/mute/ban ladder (spec.md §4.10).
type Thresholds struct {
	MuteThreshold int
	BanThreshold  int
	MuteWindow    time.Duration
}

// DefaultThresholds are the spec's suggested defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MuteThreshold: 3, BanThreshold: 6, MuteWindow: 10 * time.Minute}
}

// Action is the outcome of evaluating one chat submission against the ladder.
type Action string

const (
	ActionDeliverClean   Action = "deliver_clean"
	ActionDeliverWarning Action = "deliver_warning"
	ActionRejectedMuted  Action = "rejected_muted"
	ActionBanned         Action = "banned"
)

// ApplyHit records one banned-term hit against r and returns the resulting
// action. When the hit reaches the ban threshold, ApplyHit itself adds roomID
// to r.BanRooms.
func (r *Record) ApplyHit(now time.Time, roomID string, th Thresholds) Action {
	if r.IsMuted(now) {
		return ActionRejectedMuted
	}

	r.Strikes++

	if r.Strikes >= th.BanThreshold {
		if r.BanRooms == nil {
			r.BanRooms = make(map[string]bool)
		}
		r.BanRooms[roomID] = true
		r.appendHistory(Event{At: now, Kind: "ban", Detail: roomID})
		return ActionBanned
	}

	if r.Strikes >= th.MuteThreshold {
		until := now.Add(th.MuteWindow)
		r.MuteUntil = &until
		r.appendHistory(Event{At: now, Kind: "mute"})
		return ActionRejectedMuted
	}

	r.appendHistory(Event{At: now, Kind: "warning"})
	return ActionDeliverWarning
}

// ClearConduct resets strikes and any active mute (admin override).
func (r *Record) ClearConduct(now time.Time) {
	r.Strikes = 0
	r.MuteUntil = nil
	r.appendHistory(Event{At: now, Kind: "clear"})
}

// Unmute clears only the active mute, leaving strike count intact.
func (r *Record) Unmute(now time.Time) {
	r.MuteUntil = nil
	r.appendHistory(Event{At: now, Kind: "clear", Detail: "unmute"})
}

// TermSet is the union of seed, managed, and remote banned-term lists
// (spec.md's AdaptiveTermSet).
type TermSet struct {
	seed    map[string]bool
	managed map[string]bool
	remote  map[string]bool
}

// NewTermSet builds a TermSet from seed terms; managed/remote start empty
// and are mutated via AddManagedTerm/SetRemoteTerms.
func NewTermSet(seedTerms []string) *TermSet {
	ts := &TermSet{seed: make(map[string]bool), managed: make(map[string]bool), remote: make(map[string]bool)}
	for _, t := range seedTerms {
		ts.seed[normalize(t)] = true
	}
	return ts
}

// AddManagedTerm adds an admin-managed term.
func (ts *TermSet) AddManagedTerm(term string) {
	ts.managed[normalize(term)] = true
}

// RemoveManagedTerm removes an admin-managed term.
func (ts *TermSet) RemoveManagedTerm(term string) {
	delete(ts.managed, normalize(term))
}

// SetRemoteTerms replaces the remote term list wholesale (e.g. fetched from
// an external moderation feed).
func (ts *TermSet) SetRemoteTerms(terms []string) {
	fresh := make(map[string]bool, len(terms))
	for _, t := range terms {
		fresh[normalize(t)] = true
	}
	ts.remote = fresh
}

// ListTerms returns every term currently in the union, for admin display.
func (ts *TermSet) ListTerms() []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range []map[string]bool{ts.seed, ts.managed, ts.remote} {
		for t := range set {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

var leetSubstitutions = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
}

// diacriticFold maps common accented Latin letters to their bare ASCII
// base, so a banned term evades nothing by adding an accent. Go's standard
// library has no Unicode normalization table, so this is a direct fold
// rather than an NFD-decompose-and-drop-marks pass.
var diacriticFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a', 'ā': 'a', 'ă': 'a', 'ą': 'a',
	'ç': 'c', 'ć': 'c', 'č': 'c', 'ĉ': 'c', 'ċ': 'c',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e', 'ĕ': 'e', 'ė': 'e', 'ę': 'e', 'ě': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i', 'ĩ': 'i', 'ī': 'i', 'ĭ': 'i', 'į': 'i', 'ı': 'i',
	'ñ': 'n', 'ń': 'n', 'ň': 'n', 'ņ': 'n',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ø': 'o', 'ō': 'o', 'ŏ': 'o', 'ő': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u', 'ũ': 'u', 'ū': 'u', 'ŭ': 'u', 'ů': 'u', 'ű': 'u', 'ų': 'u',
	'ý': 'y', 'ÿ': 'y', 'ŷ': 'y',
	'ß': 's', 'ś': 's', 'š': 's',
	'ź': 'z', 'ż': 'z', 'ž': 'z',
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if sub, ok := diacriticFold[r]; ok {
			b.WriteRune(sub)
			continue
		}
		if sub, ok := leetSubstitutions[r]; ok {
			b.WriteRune(sub)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Evaluate checks content against the term set and reports the first hit,
// if any. Matching is substring-based against the normalized content,
// after collapsing leet-style obfuscation and diacritics-free case folding.
func (ts *TermSet) Evaluate(content string) (hit bool, term string) {
	normalized := normalize(content)
	for _, set := range []map[string]bool{ts.seed, ts.managed, ts.remote} {
		for t := range set {
			if t != "" && strings.Contains(normalized, t) {
				return true, t
			}
		}
	}
	return false, ""
}
