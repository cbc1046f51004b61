package crawler

import (
	"encoding/json"
	"fmt"

	"github.com/v0xg/browserpilot/internal/page"
)

// IndexAttr is stamped on every element a snapshot reports, so later
// interactions can find the element the index referred to.
const IndexAttr = "data-pilot-index"

// MaxTextLen caps element text as it leaves the page.
const MaxTextLen = 100

// elementsJS numbers the visible interactive elements of the page in
// document order, stamps the number on each and returns them as JSON.
// Previous stamps are cleared so indices never leak between snapshots.
const elementsJS = `(attr, maxText) => {
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));

	const query = [
		'a[href]', 'button', '[role="button"]', '[role="link"]', '[onclick]',
		'input:not([type="hidden"])', 'textarea', 'select', 'summary'
	].join(',');

	const elements = [];
	let index = 0;
	document.querySelectorAll(query).forEach(el => {
		if (!el.offsetParent && getComputedStyle(el).position !== 'fixed') return;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return;

		const tag = el.tagName.toLowerCase();
		if (tag === 'a') {
			const href = el.getAttribute('href') || '';
			if (href.startsWith('javascript:')) return;
		}
		const isInput = tag === 'input' || tag === 'textarea' || tag === 'select' || el.isContentEditable;
		const type = (el.getAttribute('type') || '').toLowerCase();
		const clickable = !isInput || type === 'submit' || type === 'button' ||
			type === 'checkbox' || type === 'radio';

		index++;
		el.setAttribute(attr, String(index));
		elements.push({
			index: index,
			tag: tag,
			text: (el.innerText || el.value || el.getAttribute('aria-label') || el.title || '').trim().replace(/\s+/g, ' ').slice(0, maxText),
			clickable: clickable,
			input: isInput && !(type === 'submit' || type === 'button'),
			href: tag === 'a' ? el.href : '',
			placeholder: el.getAttribute('placeholder') || '',
			type: type,
			class: typeof el.className === 'string' ? el.className : '',
			id: el.id || '',
			box: {x: Math.round(r.left), y: Math.round(r.top), width: Math.round(r.width), height: Math.round(r.height)}
		});
	});
	return JSON.stringify(elements);
}`

// interactiveCountJS counts visible interactive elements.
const interactiveCountJS = `() => {
	let visible = 0;
	document.querySelectorAll('button, [role="button"], input:not([type="hidden"]), textarea, a[href]').forEach(el => {
		if (el.offsetParent) visible++;
	});
	return visible;
}`

// spaJS reports whether the page looks like a client-rendered application.
const spaJS = `() => {
	if (window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot]') || document.querySelector('#__next')) return true;
	if (window.__VUE__ || document.querySelector('[data-v-app]')) return true;
	if (window.ng || document.querySelector('[ng-version]') || document.querySelector('app-root')) return true;
	if (document.querySelector('[class*="svelte-"]')) return true;
	return false;
}`

// decodeElements reads the output of elementsJS.
func decodeElements(raw string) ([]page.Element, error) {
	var elements []page.Element
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	return elements, nil
}

func indexSelector(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, IndexAttr, index)
}
