// Package classifier applies chat messages to an existing lead: inbound
// messages refresh contact metadata, outbound messages can move the lead to
// converted or cancelled through campaign keywords.
package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/leadstitch/internal/campaigns"
	"github.com/wolfman30/leadstitch/internal/chathistory"
	"github.com/wolfman30/leadstitch/internal/leads"
)

// TieBreak decides the outcome when a message matches both keyword lists.
type TieBreak string

const (
	// TieBreakLastMatch scans conversion then cancellation keywords; the last hit wins.
	TieBreakLastMatch TieBreak = "last_match"
	// TieBreakTextPosition picks the keyword that appears last in the message text.
	TieBreakTextPosition TieBreak = "text_position"
	TieBreakConversion   TieBreak = "conversion"
	TieBreakCancellation TieBreak = "cancellation"
)

// ParseTieBreak accepts the configured policy name; empty means last_match.
func ParseTieBreak(value string) (TieBreak, error) {
	switch tb := TieBreak(strings.ToLower(strings.TrimSpace(value))); tb {
	case "":
		return TieBreakLastMatch, nil
	case TieBreakLastMatch, TieBreakTextPosition, TieBreakConversion, TieBreakCancellation:
		return tb, nil
	default:
		return "", fmt.Errorf("classifier: unknown tie break %q", value)
	}
}

// Reasons attached to a StatusTransition.
const (
	ReasonInbound      = "inbound_message"
	ReasonNoKeyword    = "no_keyword"
	ReasonConversion   = "conversion_keyword"
	ReasonCancellation = "cancellation_keyword"
)

// Policy is the keyword configuration of one campaign.
type Policy struct {
	ConversionKeywords   []string
	CancellationKeywords []string
	TieBreak             TieBreak
}

// PolicyFor builds the policy of campaign c. A nil campaign yields a policy
// that never changes status.
func PolicyFor(c *campaigns.Campaign, tb TieBreak) Policy {
	p := Policy{TieBreak: tb}
	if c != nil {
		p.ConversionKeywords = c.ConversionKeywords
		p.CancellationKeywords = c.CancellationKeywords
	}
	return p
}

// Message is a chat message on an already resolved lead.
type Message struct {
	ID        string
	Text      string
	At        time.Time
	Direction chathistory.Direction
}

// StatusTransition is the funnel move produced by one message.
type StatusTransition struct {
	From    leads.Status
	To      leads.Status
	Changed bool
	Keyword string
	Reason  string
}

// Classify applies msg to lead in place and returns the resulting status
// transition. InitialMessage is only ever set by an inbound message on a
// lead that has none.
func Classify(lead *leads.Lead, msg Message, policy Policy) StatusTransition {
	tr := StatusTransition{From: lead.Status, To: lead.Status}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	lead.LastMessage = msg.Text
	if msg.At.After(lead.LastContactDate) {
		lead.LastContactDate = msg.At
	}

	if msg.Direction != chathistory.DirectionOutbound {
		if lead.InitialMessage == "" {
			lead.InitialMessage = msg.Text
		}
		tr.Reason = ReasonInbound
		return tr
	}

	target, keyword := policy.match(msg.Text)
	if target == "" {
		tr.Reason = ReasonNoKeyword
		return tr
	}
	tr.Keyword = keyword
	if target == leads.StatusCancelled {
		tr.Reason = ReasonCancellation
	} else {
		tr.Reason = ReasonConversion
	}
	tr.To = target
	tr.Changed = target != lead.Status
	lead.Status = target
	return tr
}

type hit struct {
	status  leads.Status
	keyword string
	pos     int
}

// match returns the target status and the winning keyword, or "" when no
// keyword is present.
func (p Policy) match(text string) (leads.Status, string) {
	lower := strings.ToLower(text)
	var conv, cancel, last *hit
	scan := func(keywords []string, status leads.Status, best **hit) {
		for _, kw := range keywords {
			needle := strings.ToLower(strings.TrimSpace(kw))
			if needle == "" {
				continue
			}
			pos := strings.LastIndex(lower, needle)
			if pos < 0 {
				continue
			}
			h := &hit{status: status, keyword: kw, pos: pos}
			if *best == nil || pos > (*best).pos {
				*best = h
			}
			last = h
		}
	}
	scan(p.ConversionKeywords, leads.StatusConverted, &conv)
	scan(p.CancellationKeywords, leads.StatusCancelled, &cancel)

	var winner *hit
	switch {
	case conv == nil && cancel == nil:
		return "", ""
	case p.TieBreak == TieBreakTextPosition && conv == nil:
		winner = cancel
	case p.TieBreak == TieBreakTextPosition && cancel == nil:
		winner = conv
	case conv == nil || cancel == nil:
		winner = last
	default:
		switch p.TieBreak {
		case TieBreakConversion:
			winner = conv
		case TieBreakCancellation:
			winner = cancel
		case TieBreakTextPosition:
			winner = conv
			if cancel.pos > conv.pos {
				winner = cancel
			}
		default:
			winner = last
		}
	}
	return winner.status, winner.keyword
}
