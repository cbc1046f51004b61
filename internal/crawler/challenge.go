package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ChallengeAttr marks the challenge input or submit control found last.
const ChallengeAttr = "data-pilot-challenge"

// challengeJS looks for an embedded challenge widget: a frame served by a
// known challenge provider or one of their container elements.
const challengeJS = `() => {
	const hosts = ['recaptcha', 'hcaptcha.com', 'challenges.cloudflare.com', 'arkoselabs.com',
		'funcaptcha.com', 'geo.captcha-delivery.com', 'captcha'];
	for (const f of document.querySelectorAll('iframe')) {
		const src = (f.getAttribute('src') || '').toLowerCase();
		const title = (f.getAttribute('title') || '').toLowerCase();
		if (hosts.some(h => src.includes(h)) || title.includes('challenge') || title.includes('captcha')) return true;
	}
	return !!document.querySelector('.g-recaptcha, .h-captcha, .cf-turnstile, #captcha, [id*="captcha" i], [class*="captcha" i]');
}`

// markFirstJS stamps the first visible element matching the selector.
const markFirstJS = `(selector, attr) => {
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
	for (const el of document.querySelectorAll(selector)) {
		if (!el.offsetParent) continue;
		el.setAttribute(attr, '1');
		return true;
	}
	return false;
}`

const (
	textInputSelector = `input:not([type]), input[type="text"], input[type="search"], textarea`
	submitSelector    = `button[type="submit"], input[type="submit"], button:not([type])`
)

// ErrNoControl is returned when the challenge form lacks the needed control.
var ErrNoControl = errors.New("no visible control")

func (b *Browser) ChallengePresent(ctx context.Context) (bool, error) {
	res, err := b.page.Context(ctx).Eval(challengeJS)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (b *Browser) FillFirstTextInput(ctx context.Context, text string) error {
	el, err := b.markFirst(ctx, textInputSelector)
	if err != nil {
		return err
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("fill challenge input: %w", err)
	}
	return nil
}

func (b *Browser) ClickFirstSubmit(ctx context.Context) error {
	el, err := b.markFirst(ctx, submitSelector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click challenge submit: %w", err)
	}
	return nil
}

func (b *Browser) markFirst(ctx context.Context, selector string) (*rod.Element, error) {
	p := b.page.Context(ctx)
	res, err := p.Eval(markFirstJS, selector, ChallengeAttr)
	if err != nil {
		return nil, err
	}
	if !res.Value.Bool() {
		return nil, fmt.Errorf("%w matching %q", ErrNoControl, selector)
	}
	el, err := p.Timeout(5 * time.Second).Element(`[` + ChallengeAttr + `]`)
	if err != nil {
		return nil, err
	}
	return el.CancelTimeout(), nil
}
