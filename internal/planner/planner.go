package planner

import (
	"context"
	"encoding/json"
	"time"

	"relaycore/internal/bus"
	"relaycore/internal/dispatch"
	"relaycore/internal/store"
)

// Planner resolves a SendNotification request into zero or more dispatch
// jobs on the message bus (spec §4.3.4).
type Planner struct {
	preferences store.PreferencesStore
	tokens      store.DeviceTokenStore
	producer    *bus.Producer
	now         func() time.Time
}

// New wires a Planner.
func New(preferences store.PreferencesStore, tokens store.DeviceTokenStore, producer *bus.Producer) *Planner {
	return &Planner{preferences: preferences, tokens: tokens, producer: producer, now: time.Now}
}

// Plan executes the five steps of spec §4.3.4 against req.
func (p *Planner) Plan(ctx context.Context, req SendNotification) error {
	if req.Recipient == "" {
		return ErrNotImplemented
	}

	prefs, err := p.preferences.Get(ctx, req.Recipient)
	if err != nil {
		return err // store.ErrNotFound propagates as-is per spec step 2
	}

	dnd, err := inDoNotDisturbWindow(prefs, p.now())
	if err != nil {
		return err
	}
	if dnd {
		return ErrDoNotDisturb
	}

	configured := prefs.ChannelsFor(req.Type)
	channels := intersect(configured, req.Channels)
	if len(channels) == 0 {
		return ErrNoChannelIntersection
	}

	for _, channel := range channels {
		switch channel {
		case "email":
			if err := p.enqueueEmail(ctx, req, prefs.Email); err != nil {
				return err
			}
		case "push":
			if err := p.enqueuePush(ctx, req); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Planner) enqueueEmail(ctx context.Context, req SendNotification, to string) error {
	job := dispatch.EmailJob{
		To:            []dispatch.EmailAddress{{Email: to}},
		From:          dispatch.EmailAddress{Email: req.From.Email, Name: req.From.Name},
		TemplateID:    req.TemplateID,
		TemplateProps: req.TemplateProps,
		Subject:       req.Title,
		Content:       req.Content,
		ContentType:   req.ContentType,
		Attachments:   toDispatchAttachments(req.Attachments),
	}
	if req.ReplyTo != nil {
		job.ReplyTo = &dispatch.EmailAddress{Email: req.ReplyTo.Email, Name: req.ReplyTo.Name}
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, bus.TopicEmail, payload)
}

func (p *Planner) enqueuePush(ctx context.Context, req SendNotification) error {
	tokens, err := p.tokens.TokensFor(ctx, req.Recipient)
	if err != nil {
		return err
	}
	job := dispatch.PushJob{
		Recipient:     tokens,
		Type:          dispatch.RecipientToken,
		TemplateID:    req.TemplateID,
		TemplateProps: req.TemplateProps,
		Title:         req.Title,
		Content:       req.Content,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, bus.TopicPush, payload)
}

// intersect returns the elements of requested that also appear in
// configured, preserving requested's order.
func intersect(configured, requested []string) []string {
	set := make(map[string]struct{}, len(configured))
	for _, c := range configured {
		set[c] = struct{}{}
	}
	var out []string
	for _, c := range requested {
		if _, ok := set[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
