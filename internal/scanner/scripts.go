package scanner

// In-page collection scripts. Both receive {attr, ids}: the identity
// attribute name and a pool of pre-generated ids to assign in order.
// Collection and tagging happen in one Evaluate round-trip so no element
// can move between being measured and being tagged.

const collectScript = `(arg) => {
	const attr = arg.attr;
	const ids = arg.ids;
	let next = 0;
	const out = [];

	// Clear residual identity attributes from the previous scan. The
	// execution context can be freshly navigated, so failures are ignored.
	try {
		document.querySelectorAll('[' + attr + ']').forEach((el) => el.removeAttribute(attr));
	} catch (e) {}

	function rendered(el) {
		try {
			const rect = el.getBoundingClientRect();
			if (rect.width < 5 || rect.height < 5) return false;
			const style = window.getComputedStyle(el);
			if (style.display === 'none' || style.visibility === 'hidden') return false;
			if (el.hidden) return false;
			return true;
		} catch (e) {
			return false;
		}
	}

	const union = "button, [role='button'], a[href], input:not([type='hidden']), textarea, select, [role='link'], [role='checkbox'], [role='radio']";
	let nodes;
	try {
		nodes = document.querySelectorAll(union);
	} catch (e) {
		return out;
	}

	const taken = new Set();
	for (const el of nodes) {
		if (next >= ids.length) break;
		if (!rendered(el)) continue;

		// Bubble-up: icons and wrapper divs inside an <a> or <button> should
		// address the real control, not the decoration.
		let target = el;
		const tag = el.tagName.toLowerCase();
		if (tag === 'img' || tag === 'div' || tag === 'span' || tag === 'svg') {
			let p = el;
			for (let depth = 0; depth < 3 && p.parentElement; depth++) {
				p = p.parentElement;
				const ptag = p.tagName.toLowerCase();
				if (ptag === 'a' || ptag === 'button') {
					target = p;
					break;
				}
			}
		}
		if (taken.has(target)) continue;
		taken.add(target);
		if (!rendered(target)) continue;

		const rect = target.getBoundingClientRect();
		const id = ids[next++];
		target.setAttribute(attr, id);

		let hasImg = false, imgAlt = '';
		try {
			const img = target.querySelector('img');
			if (img) {
				hasImg = true;
				imgAlt = img.getAttribute('alt') || '';
			}
		} catch (e) {}

		out.push({
			id: id,
			tag: target.tagName.toLowerCase(),
			ariaRole: target.getAttribute('role') || '',
			ariaLabel: target.getAttribute('aria-label') || '',
			name: target.getAttribute('name') || '',
			placeholder: target.getAttribute('placeholder') || '',
			text: ((target.innerText || target.textContent || '') + '').trim().slice(0, 300),
			inputType: target.getAttribute('type') || '',
			hasImg: hasImg,
			imgAlt: imgAlt,
			href: target.getAttribute('href') || '',
			x: rect.x, y: rect.y, w: rect.width, h: rect.height
		});
	}
	return out;
}`

// pointerSweepScript finds clickable-looking elements the union selector
// missed: anything whose computed cursor is pointer. Runs only when the
// main pass produced too few regions.
const pointerSweepScript = `(arg) => {
	const attr = arg.attr;
	const ids = arg.ids;
	let next = 0;
	const out = [];

	let nodes;
	try {
		nodes = document.querySelectorAll('body *');
	} catch (e) {
		return out;
	}

	for (const el of nodes) {
		if (next >= ids.length) break;
		try {
			if (el.hasAttribute(attr)) continue;
			if (el.closest('[' + attr + ']')) continue;
			const style = window.getComputedStyle(el);
			if (style.cursor !== 'pointer') continue;
			// Only the outermost pointer element per subtree; children of a
			// pointer ancestor inherit the cursor.
			if (el.parentElement && window.getComputedStyle(el.parentElement).cursor === 'pointer') continue;
			if (style.display === 'none' || style.visibility === 'hidden') continue;
			const rect = el.getBoundingClientRect();
			if (rect.width < 5 || rect.height < 5) continue;
			if (rect.bottom < 0 || rect.top > window.innerHeight) continue;

			const id = ids[next++];
			el.setAttribute(attr, id);
			out.push({
				id: id,
				tag: el.tagName.toLowerCase(),
				ariaRole: el.getAttribute('role') || '',
				ariaLabel: el.getAttribute('aria-label') || '',
				name: el.getAttribute('name') || '',
				placeholder: el.getAttribute('placeholder') || '',
				text: ((el.innerText || el.textContent || '') + '').trim().slice(0, 300),
				inputType: el.getAttribute('type') || '',
				hasImg: false,
				imgAlt: '',
				href: el.getAttribute('href') || '',
				x: rect.x, y: rect.y, w: rect.width, h: rect.height
			});
		} catch (e) {}
	}
	return out;
}`

const geometryScript = `() => ({
	y: window.scrollY || 0,
	h: (document.documentElement && document.documentElement.scrollHeight) || 0,
	v: window.innerHeight || 0
})`

const scrollScript = `(arg) => {
	const amount = Number(arg.amount) || 600;
	const dir = arg.direction === 'up' ? -1 : 1;
	window.scrollBy(0, dir * amount);
	return window.scrollY;
}`
