package uow

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"loom/internal/meta"
	"loom/internal/query"
	"loom/internal/store"
)

// Test domain: orders reference a customer (many-to-one), own their lines
// (one-to-many), and share items through the order_items link table
// (many-to-many). Items carry assigned identifiers so tests can stage
// pre-existing rows; orders, lines, and links use auto keys; tags use uuid
// keys.

type Customer struct {
	ID   int64
	Name string
}

type Order struct {
	ID       int64
	Ref      string
	Active   bool
	Customer *Customer
	Lines    *Collection
	// Items holds either a diff-aware *Collection or a plain []any.
	Items any
}

type OrderLine struct {
	ID    int64
	Sku   string
	Qty   int64
	Order *Order
}

type Item struct {
	ID    int64
	Label string
}

type OrderItem struct {
	ID    int64
	Order *Order
	Item  *Item
}

type Tag struct {
	ID   string
	Name string
}

func autoIntID[E any](get func(*E) *int64) meta.PropertyDescriptor {
	return meta.PropertyDescriptor{
		Name: "id", Column: "id", Type: meta.TypeInt,
		Get: meta.Getter(func(e *E) meta.Value {
			if *get(e) == 0 {
				return meta.Null{}
			}
			return meta.Int(*get(e))
		}),
		Set: meta.Setter(func(e *E, v meta.Value) error {
			n, err := meta.AsInt(v)
			if err != nil {
				return err
			}
			*get(e) = n
			return nil
		}),
	}
}

func customerDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[Customer]("Customer", "customers")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAssigned}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(c *Customer) *int64 { return &c.ID }),
		{
			Name: "name", Column: "name", Type: meta.TypeString,
			Get: meta.Getter(func(c *Customer) meta.Value { return meta.String(c.Name) }),
			Set: meta.Setter(func(c *Customer, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				c.Name = s
				return nil
			}),
		},
	}
	return d
}

func itemDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[Item]("Item", "items")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAssigned}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(i *Item) *int64 { return &i.ID }),
		{
			Name: "label", Column: "label", Type: meta.TypeString,
			Get: meta.Getter(func(i *Item) meta.Value { return meta.String(i.Label) }),
			Set: meta.Setter(func(i *Item, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				i.Label = s
				return nil
			}),
		},
	}
	return d
}

func orderDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[Order]("Order", "orders")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAuto}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(o *Order) *int64 { return &o.ID }),
		{
			Name: "ref", Column: "ref", Type: meta.TypeString,
			Get: meta.Getter(func(o *Order) meta.Value { return meta.String(o.Ref) }),
			Set: meta.Setter(func(o *Order, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				o.Ref = s
				return nil
			}),
		},
		{
			Name: "active", Column: "active", Type: meta.TypeBool,
			Get: meta.Getter(func(o *Order) meta.Value { return meta.Bool(o.Active) }),
			Set: meta.Setter(func(o *Order, v meta.Value) error {
				b, err := meta.AsBool(v)
				if err != nil {
					return err
				}
				o.Active = b
				return nil
			}),
		},
	}
	d.Relations = []meta.RelationDescriptor{
		{
			Name: "customer", Kind: meta.ManyToOne, Target: "Customer",
			JoinColumn: "customer_id", Nullable: true,
			Get: meta.RelationGetter(func(o *Order) any {
				if o.Customer == nil {
					return nil
				}
				return o.Customer
			}),
			Set: meta.RelationSetter(func(o *Order, related any) error {
				c, ok := related.(*Customer)
				if !ok {
					return fmt.Errorf("expected *Customer, got %T", related)
				}
				o.Customer = c
				return nil
			}),
		},
		{
			Name: "lines", Kind: meta.OneToMany, Target: "OrderLine", MappedBy: "order",
			Get: meta.RelationGetter(func(o *Order) any {
				if o.Lines == nil {
					return nil
				}
				return o.Lines
			}),
			Set: meta.RelationSetter(func(o *Order, related any) error {
				c, ok := related.(*Collection)
				if !ok {
					return fmt.Errorf("expected *Collection, got %T", related)
				}
				o.Lines = c
				return nil
			}),
		},
		{
			Name: "items", Kind: meta.ManyToMany, Target: "Item",
			Link: &meta.LinkMapping{Entity: "OrderItem", JoinProperty: "order", InverseJoinProperty: "item"},
			Get:  meta.RelationGetter(func(o *Order) any { return o.Items }),
			Set: meta.RelationSetter(func(o *Order, related any) error {
				o.Items = related
				return nil
			}),
		},
	}
	return d
}

func orderLineDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[OrderLine]("OrderLine", "order_lines")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAuto}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(l *OrderLine) *int64 { return &l.ID }),
		{
			Name: "sku", Column: "sku", Type: meta.TypeString,
			Get: meta.Getter(func(l *OrderLine) meta.Value { return meta.String(l.Sku) }),
			Set: meta.Setter(func(l *OrderLine, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				l.Sku = s
				return nil
			}),
		},
		{
			Name: "qty", Column: "qty", Type: meta.TypeInt,
			Get: meta.Getter(func(l *OrderLine) meta.Value { return meta.Int(l.Qty) }),
			Set: meta.Setter(func(l *OrderLine, v meta.Value) error {
				n, err := meta.AsInt(v)
				if err != nil {
					return err
				}
				l.Qty = n
				return nil
			}),
		},
	}
	d.Relations = []meta.RelationDescriptor{
		{
			Name: "order", Kind: meta.ManyToOne, Target: "Order", JoinColumn: "order_id",
			Get: meta.RelationGetter(func(l *OrderLine) any {
				if l.Order == nil {
					return nil
				}
				return l.Order
			}),
			Set: meta.RelationSetter(func(l *OrderLine, related any) error {
				o, ok := related.(*Order)
				if !ok {
					return fmt.Errorf("expected *Order, got %T", related)
				}
				l.Order = o
				return nil
			}),
		},
	}
	return d
}

func orderItemDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[OrderItem]("OrderItem", "order_items")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAuto}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(l *OrderItem) *int64 { return &l.ID }),
	}
	d.Relations = []meta.RelationDescriptor{
		{
			Name: "order", Kind: meta.ManyToOne, Target: "Order", JoinColumn: "order_id",
			Get: meta.RelationGetter(func(l *OrderItem) any {
				if l.Order == nil {
					return nil
				}
				return l.Order
			}),
			Set: meta.RelationSetter(func(l *OrderItem, related any) error {
				o, ok := related.(*Order)
				if !ok {
					return fmt.Errorf("expected *Order, got %T", related)
				}
				l.Order = o
				return nil
			}),
		},
		{
			Name: "item", Kind: meta.ManyToOne, Target: "Item", JoinColumn: "item_id",
			Get: meta.RelationGetter(func(l *OrderItem) any {
				if l.Item == nil {
					return nil
				}
				return l.Item
			}),
			Set: meta.RelationSetter(func(l *OrderItem, related any) error {
				i, ok := related.(*Item)
				if !ok {
					return fmt.Errorf("expected *Item, got %T", related)
				}
				l.Item = i
				return nil
			}),
		},
	}
	return d
}

func tagDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[Tag]("Tag", "tags")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorUUID}
	d.Properties = []meta.PropertyDescriptor{
		{
			Name: "id", Column: "id", Type: meta.TypeString,
			Get: meta.Getter(func(tg *Tag) meta.Value {
				if tg.ID == "" {
					return meta.Null{}
				}
				return meta.String(tg.ID)
			}),
			Set: meta.Setter(func(tg *Tag, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				tg.ID = s
				return nil
			}),
		},
		{
			Name: "name", Column: "name", Type: meta.TypeString,
			Get: meta.Getter(func(tg *Tag) meta.Value { return meta.String(tg.Name) }),
			Set: meta.Setter(func(tg *Tag, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				tg.Name = s
				return nil
			}),
		},
	}
	return d
}

// Bidirectional pair: docs and labels share the doc_labels link table and
// each side maps the relation, so hydrating either side loads a collection.

type Doc struct {
	ID     int64
	Title  string
	Labels any
}

type Label struct {
	ID   int64
	Name string
	Docs any
}

type DocLabel struct {
	ID    int64
	Doc   *Doc
	Label *Label
}

func docDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[Doc]("Doc", "docs")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAssigned}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(dc *Doc) *int64 { return &dc.ID }),
		{
			Name: "title", Column: "title", Type: meta.TypeString,
			Get: meta.Getter(func(dc *Doc) meta.Value { return meta.String(dc.Title) }),
			Set: meta.Setter(func(dc *Doc, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				dc.Title = s
				return nil
			}),
		},
	}
	d.Relations = []meta.RelationDescriptor{
		{
			Name: "labels", Kind: meta.ManyToMany, Target: "Label",
			Link: &meta.LinkMapping{Entity: "DocLabel", JoinProperty: "doc", InverseJoinProperty: "label"},
			Get:  meta.RelationGetter(func(dc *Doc) any { return dc.Labels }),
			Set: meta.RelationSetter(func(dc *Doc, related any) error {
				dc.Labels = related
				return nil
			}),
		},
	}
	return d
}

func labelDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[Label]("Label", "labels")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAssigned}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(l *Label) *int64 { return &l.ID }),
		{
			Name: "name", Column: "name", Type: meta.TypeString,
			Get: meta.Getter(func(l *Label) meta.Value { return meta.String(l.Name) }),
			Set: meta.Setter(func(l *Label, v meta.Value) error {
				s, err := meta.AsString(v)
				if err != nil {
					return err
				}
				l.Name = s
				return nil
			}),
		},
	}
	d.Relations = []meta.RelationDescriptor{
		{
			Name: "docs", Kind: meta.ManyToMany, Target: "Doc",
			Link: &meta.LinkMapping{Entity: "DocLabel", JoinProperty: "label", InverseJoinProperty: "doc"},
			Get:  meta.RelationGetter(func(l *Label) any { return l.Docs }),
			Set: meta.RelationSetter(func(l *Label, related any) error {
				l.Docs = related
				return nil
			}),
		},
	}
	return d
}

func docLabelDescriptor() *meta.EntityDescriptor {
	d := meta.Describe[DocLabel]("DocLabel", "doc_labels")
	d.ID = meta.IDMapping{Property: "id", Column: "id", Generator: meta.GeneratorAuto}
	d.Properties = []meta.PropertyDescriptor{
		autoIntID(func(dl *DocLabel) *int64 { return &dl.ID }),
	}
	d.Relations = []meta.RelationDescriptor{
		{
			Name: "doc", Kind: meta.ManyToOne, Target: "Doc", JoinColumn: "doc_id",
			Get: meta.RelationGetter(func(dl *DocLabel) any {
				if dl.Doc == nil {
					return nil
				}
				return dl.Doc
			}),
			Set: meta.RelationSetter(func(dl *DocLabel, related any) error {
				dc, ok := related.(*Doc)
				if !ok {
					return fmt.Errorf("expected *Doc, got %T", related)
				}
				dl.Doc = dc
				return nil
			}),
		},
		{
			Name: "label", Kind: meta.ManyToOne, Target: "Label", JoinColumn: "label_id",
			Get: meta.RelationGetter(func(dl *DocLabel) any {
				if dl.Label == nil {
					return nil
				}
				return dl.Label
			}),
			Set: meta.RelationSetter(func(dl *DocLabel, related any) error {
				l, ok := related.(*Label)
				if !ok {
					return fmt.Errorf("expected *Label, got %T", related)
				}
				dl.Label = l
				return nil
			}),
		},
	}
	return d
}

func newTestRegistry(t *testing.T) *meta.Registry {
	t.Helper()
	reg := meta.NewRegistry()
	for _, d := range []*meta.EntityDescriptor{
		customerDescriptor(),
		itemDescriptor(),
		orderDescriptor(),
		orderLineDescriptor(),
		orderItemDescriptor(),
		tagDescriptor(),
	} {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func newBidiRegistry(t *testing.T) *meta.Registry {
	t.Helper()
	reg := meta.NewRegistry()
	for _, d := range []*meta.EntityDescriptor{
		docDescriptor(),
		labelDescriptor(),
		docLabelDescriptor(),
	} {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

// fixedIDGenerator issues deterministic uuid replacements for tests.
type fixedIDGenerator struct {
	prefix string
	n      int
}

func (g *fixedIDGenerator) NextID() string {
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

func newTestSession(t *testing.T) (*Session, *store.Store, *meta.Registry) {
	t.Helper()
	reg := newTestRegistry(t)
	st, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, store.CreateTables(context.Background(), st.DB(), reg))
	sess := NewSession(reg, st, WithIdentifierGenerator(&fixedIDGenerator{prefix: "tag"}))
	return sess, st, reg
}

func newBidiSession(t *testing.T) (*Session, *store.Store, *meta.Registry) {
	t.Helper()
	reg := newBidiRegistry(t)
	st, err := store.Open(t.TempDir() + "/bidi.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, store.CreateTables(context.Background(), st.DB(), reg))
	return NewSession(reg, st), st, reg
}

// seedItems inserts items directly so tests can stage pre-existing rows.
func seedItems(t *testing.T, st *store.Store, items ...*Item) {
	t.Helper()
	ctx := context.Background()
	for _, item := range items {
		_, err := st.InsertRow(ctx, nil, "items",
			[]string{"id", "label"},
			[]meta.Value{meta.Int(item.ID), meta.String(item.Label)})
		require.NoError(t, err)
	}
}

// seedOrderRow inserts an order row directly. A zero customerID writes a
// null foreign key.
func seedOrderRow(t *testing.T, st *store.Store, id int64, ref string, customerID int64) {
	t.Helper()
	customer := meta.Value(meta.Null{})
	if customerID != 0 {
		customer = meta.Int(customerID)
	}
	_, err := st.InsertRow(context.Background(), nil, "orders",
		[]string{"id", "ref", "active", "customer_id"},
		[]meta.Value{meta.Int(id), meta.String(ref), meta.Bool(true), customer})
	require.NoError(t, err)
}

// seedOrderLineRow inserts an order_lines row directly.
func seedOrderLineRow(t *testing.T, st *store.Store, id int64, sku string, qty, orderID int64) {
	t.Helper()
	_, err := st.InsertRow(context.Background(), nil, "order_lines",
		[]string{"id", "sku", "qty", "order_id"},
		[]meta.Value{meta.Int(id), meta.String(sku), meta.Int(qty), meta.Int(orderID)})
	require.NoError(t, err)
}

// seedLinkRow inserts an order_items row directly.
func seedLinkRow(t *testing.T, st *store.Store, orderID, itemID int64) {
	t.Helper()
	_, err := st.InsertRow(context.Background(), nil, "order_items",
		[]string{"order_id", "item_id"},
		[]meta.Value{meta.Int(orderID), meta.Int(itemID)})
	require.NoError(t, err)
}

// seedDocGraph inserts a doc, its labels, and the doc_labels rows joining
// them directly.
func seedDocGraph(t *testing.T, st *store.Store, docID int64, title string, labels map[int64]string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.InsertRow(ctx, nil, "docs",
		[]string{"id", "title"},
		[]meta.Value{meta.Int(docID), meta.String(title)})
	require.NoError(t, err)
	ids := make([]int64, 0, len(labels))
	for labelID := range labels {
		ids = append(ids, labelID)
	}
	slices.Sort(ids)
	for _, labelID := range ids {
		_, err := st.InsertRow(ctx, nil, "labels",
			[]string{"id", "name"},
			[]meta.Value{meta.Int(labelID), meta.String(labels[labelID])})
		require.NoError(t, err)
		_, err = st.InsertRow(ctx, nil, "doc_labels",
			[]string{"doc_id", "label_id"},
			[]meta.Value{meta.Int(docID), meta.Int(labelID)})
		require.NoError(t, err)
	}
}

// docLabelRows returns the doc_labels rows for a doc, ordered by id.
func docLabelRows(t *testing.T, st *store.Store, docID int64) []store.Row {
	t.Helper()
	rows, err := st.SelectWhere(context.Background(), nil, "doc_labels",
		[]store.Column{
			{Name: "id", Type: meta.TypeInt},
			{Name: "doc_id", Type: meta.TypeInt},
			{Name: "label_id", Type: meta.TypeInt},
		},
		query.Eq{Column: "doc_id", Value: meta.Int(docID)}, "id")
	require.NoError(t, err)
	return rows
}

// linkRows returns the order_items rows for an order, ordered by id.
func linkRows(t *testing.T, st *store.Store, orderID int64) []store.Row {
	t.Helper()
	rows, err := st.SelectWhere(context.Background(), nil, "order_items",
		[]store.Column{
			{Name: "id", Type: meta.TypeInt},
			{Name: "order_id", Type: meta.TypeInt},
			{Name: "item_id", Type: meta.TypeInt},
		},
		query.Eq{Column: "order_id", Value: meta.Int(orderID)}, "id")
	require.NoError(t, err)
	return rows
}
