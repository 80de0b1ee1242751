package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// document exposes a parsed page to scripts. It covers what injected
// fuzzers touch: element lookup, parent traversal, removal and the title.
// Element objects are memoized so that lookups of one node compare equal.
type document struct {
	vm    *goja.Runtime
	doc   *goquery.Document
	nodes map[*html.Node]*goja.Object
	elems map[*goja.Object]*html.Node
}

func newDocument(vm *goja.Runtime, doc *goquery.Document) *document {
	return &document{
		vm:    vm,
		doc:   doc,
		nodes: make(map[*html.Node]*goja.Object),
		elems: make(map[*goja.Object]*html.Node),
	}
}

func (d *document) object() *goja.Object {
	obj := d.vm.NewObject()
	_ = obj.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		return d.first(d.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr("id")
			return v == id
		}))
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.all(d.doc.Find(strings.ToLower(call.Argument(0).String())))
	})
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.first(d.doc.Find(call.Argument(0).String()))
	})
	d.getter(obj, "documentElement", func() goja.Value { return d.first(d.doc.Children()) })
	d.getter(obj, "head", func() goja.Value { return d.first(d.doc.Find("head")) })
	d.getter(obj, "body", func() goja.Value { return d.first(d.doc.Find("body")) })
	_ = obj.DefineAccessorProperty("title",
		d.vm.ToValue(func(goja.FunctionCall) goja.Value { return d.vm.ToValue(d.title()) }),
		d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			d.setTitle(call.Argument(0).String())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	return obj
}

func (d *document) getter(obj *goja.Object, name string, fn func() goja.Value) {
	_ = obj.DefineAccessorProperty(name,
		d.vm.ToValue(func(goja.FunctionCall) goja.Value { return fn() }),
		nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func (d *document) first(s *goquery.Selection) goja.Value {
	if s.Length() == 0 {
		return goja.Null()
	}
	return d.element(s.Get(0))
}

func (d *document) all(s *goquery.Selection) goja.Value {
	out := make([]any, 0, s.Length())
	for _, n := range s.Nodes {
		out = append(out, d.element(n))
	}
	return d.vm.NewArray(out...)
}

func (d *document) element(n *html.Node) goja.Value {
	if n == nil || n.Type != html.ElementNode {
		return goja.Null()
	}
	if obj, ok := d.nodes[n]; ok {
		return obj
	}

	obj := d.vm.NewObject()
	sel := goquery.NewDocumentFromNode(n).Selection
	_ = obj.Set("tagName", strings.ToUpper(n.Data))
	d.getter(obj, "id", func() goja.Value {
		v, _ := sel.Attr("id")
		return d.vm.ToValue(v)
	})
	d.getter(obj, "parentNode", func() goja.Value { return d.element(n.Parent) })
	d.getter(obj, "textContent", func() goja.Value { return d.vm.ToValue(sel.Text()) })
	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		v, ok := sel.Attr(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return d.vm.ToValue(v)
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		sel.SetAttr(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child, ok := d.unwrap(call.Argument(0))
		if !ok || child.Parent != n {
			panic(d.vm.NewTypeError("removeChild: node is not a child of this element"))
		}
		n.RemoveChild(child)
		return call.Argument(0)
	})

	d.nodes[n] = obj
	d.elems[obj] = n
	return obj
}

func (d *document) unwrap(v goja.Value) (*html.Node, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	n, ok := d.elems[obj]
	return n, ok
}

func (d *document) title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

func (d *document) setTitle(text string) {
	title := d.doc.Find("title").First()
	if title.Length() == 0 {
		head := d.doc.Find("head").First()
		if head.Length() == 0 {
			return
		}
		head.AppendNodes(&html.Node{Type: html.ElementNode, DataAtom: atom.Title, Data: "title"})
		title = head.Find("title").First()
	}
	n := title.Get(0)
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
