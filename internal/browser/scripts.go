package browser

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// registryJS installs window.__pagepilot, which hands out stable integer
// references for elements so Go side handles survive between evaluations.
// References are held weakly and resolve to null once the node is detached.
const registryJS = `
if (!window.__pagepilot) {
  const byRef = new Map();
  const refs = new WeakMap();
  let next = 0;
  const textLimit = 4096;
  const valueTags = ['input', 'textarea', 'select'];

  const ref = (el) => {
    let id = refs.get(el);
    if (id === undefined) {
      id = ++next;
      refs.set(el, id);
      byRef.set(id, new WeakRef(el));
    }
    return id;
  };

  const get = (id) => {
    const held = byRef.get(id);
    const el = held && held.deref();
    if (!el || !el.isConnected) {
      byRef.delete(id);
      return null;
    }
    return el;
  };

  const describe = (el) => {
    const tag = el.tagName.toLowerCase();
    const parent = el.parentElement;
    let nth = 1;
    let sameTag = 1;
    if (parent) {
      const kids = Array.from(parent.children);
      nth = kids.indexOf(el) + 1;
      sameTag = kids.filter((k) => k.tagName === el.tagName).length;
    }
    const attrs = {};
    for (const a of Array.from(el.attributes)) {
      attrs[a.name] = a.value;
    }
    const r = el.getBoundingClientRect();
    const view = el.ownerDocument.defaultView || window;
    const cs = view.getComputedStyle(el);
    const text = el.textContent || '';
    return {
      ref: ref(el),
      tag,
      attrs,
      text: text.length > textLimit ? text.slice(0, textLimit) : text,
      value: valueTags.includes(tag) && el.value != null ? String(el.value) : '',
      nth,
      sameTag,
      rect: { x: r.x, y: r.y, width: r.width, height: r.height },
      style: { display: cs.display, visibility: cs.visibility, opacity: cs.opacity },
      parent: parent ? ref(parent) : 0,
    };
  };

  const collect = (els) => {
    const nodes = new Map();
    const matches = [];
    for (const el of els) {
      matches.push(ref(el));
      for (let n = el; n && !nodes.has(ref(n)); n = n.parentElement) {
        nodes.set(ref(n), describe(n));
      }
    }
    return { matches, nodes: Array.from(nodes.values()) };
  };

  const frame = (id) => {
    const f = get(id);
    return f ? f.contentDocument : null;
  };

  window.__pagepilot = { ref, get, describe, collect, frame };
}
`

// wrapScript runs body with pp bound to the registry and root bound to the
// document the page is scoped to.
func wrapScript(rootExpr, body string) string {
	return fmt.Sprintf(`(() => {
%s
const pp = window.__pagepilot;
const root = %s;
if (!root) {
  throw new Error('document is not accessible');
}
%s
})()`, registryJS, rootExpr, body)
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

const infoJS = `
const view = root.defaultView || window;
return {
  url: root.URL,
  title: root.title,
  width: view.innerWidth,
  height: view.innerHeight,
  scrollX: Math.round(view.scrollX),
  scrollY: Math.round(view.scrollY),
};`

func queryAllJS(selector string) string {
	return fmt.Sprintf(`
let els;
try {
  els = root.querySelectorAll(%s);
} catch (e) {
  return { invalid: String((e && e.message) || e) };
}
return pp.collect(Array.from(els));`, jsString(selector))
}

// findByTextJS prefers an interactive match, then the innermost one.
func findByTextJS(text, interactive string) string {
	return fmt.Sprintf(`
const want = %s.trim();
const body = root.body || root.documentElement;
if (!want || !body) {
  return pp.collect([]);
}
const all = Array.from(body.querySelectorAll('*'))
  .filter((el) => (el.textContent || '').trim() === want);
let hit = all.find((el) => el.matches(%s));
if (!hit) {
  hit = all.find((el, i) => i + 1 === all.length || !el.contains(all[i + 1]));
}
return pp.collect(hit ? [hit] : []);`, jsString(text), jsString(interactive))
}

func frameJS(selector string) string {
	return fmt.Sprintf(`
let els;
try {
  els = Array.from(root.querySelectorAll(%s));
} catch (e) {
  return { invalid: String((e && e.message) || e) };
}
const f = els.find((el) => el.tagName.toLowerCase() === 'iframe');
if (!f) {
  return { ref: 0 };
}
if (!f.contentDocument) {
  return { ref: 0, blocked: true };
}
return { ref: pp.ref(f) };`, jsString(selector))
}

// elementJS resolves ref and runs op with el bound to it.
func elementJS(ref int64, op string) string {
	return fmt.Sprintf(`
const el = pp.get(%d);
if (!el) {
  return { stale: true };
}
%s
return {};`, ref, op)
}

const (
	scrollIntoViewOp = `el.scrollIntoView({ block: 'center', inline: 'nearest' });`
	clickOp          = `el.click();`
	focusOp          = `el.focus();`
)

// setValueOp goes through the prototype setter so framework-controlled
// inputs observe the change.
func setValueOp(value string) string {
	return fmt.Sprintf(`
const proto = Object.getPrototypeOf(el);
const desc = proto && Object.getOwnPropertyDescriptor(proto, 'value');
if (desc && desc.set) {
  desc.set.call(el, %[1]s);
} else {
  el.value = %[1]s;
}`, jsString(value))
}

func dispatchEventOp(eventType string) string {
	return fmt.Sprintf(`
const view = el.ownerDocument.defaultView || window;
el.dispatchEvent(new view.Event(%s, { bubbles: true, cancelable: true }));`, jsString(eventType))
}

func scrollJS(method string, x, y int) string {
	return fmt.Sprintf(`
const view = root.defaultView || window;
view.%s(%d, %d);
return {};`, method, x, y)
}

func assignLocationJS(url string) string {
	return fmt.Sprintf(`
const view = root.defaultView || window;
view.location.assign(%s);
return {};`, jsString(url))
}
