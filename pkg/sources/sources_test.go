package sources

import (
	"context"
	"testing"

	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/dictionary"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

type testDoc struct {
	bufnr   int
	version int
	lines   []string
	chars   utils.WordChars
}

func (d *testDoc) Bufnr() int                      { return d.bufnr }
func (d *testDoc) FileType() string                { return "text" }
func (d *testDoc) Version() int                    { return d.version }
func (d *testDoc) Lines() []string                 { return d.lines }
func (d *testDoc) Line(i int) string               { return d.lines[i] }
func (d *testDoc) IsWord(r rune) bool              { return d.chars.IsWord(r) }
func (d *testDoc) ForceSync(context.Context) error { return nil }
func (d *testDoc) SetPaused(bool)                  {}

type testDocs map[int]complete.Document

func (t testDocs) Document(bufnr int) complete.Document { return t[bufnr] }

type stubSource struct {
	name     string
	fts      []string
	triggers []string
}

func (s *stubSource) Name() string                { return s.name }
func (s *stubSource) Priority() int               { return 1 }
func (s *stubSource) FileTypes() []string         { return s.fts }
func (s *stubSource) TriggerCharacters() []string { return s.triggers }
func (s *stubSource) Provide(context.Context, complete.Option) (*complete.Result, error) {
	return nil, nil
}
func (s *stubSource) Resolve(context.Context, *complete.Item) error { return nil }
func (s *stubSource) ShouldCommit(*complete.Item, string) bool      { return false }
func (s *stubSource) OnAccept(context.Context, *complete.Item, complete.Option) error {
	return nil
}

func names(srcs []complete.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.Name()
	}
	return out
}

func TestRegistry_CompleteSources(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubSource{name: "words"})
	r.Register(&stubSource{name: "gopls", fts: []string{"go"}, triggers: []string{"."}})
	r.Register(&stubSource{name: "css", fts: []string{"css"}, triggers: []string{":"}})

	assert.Equal(t, []string{"words", "gopls"}, names(r.CompleteSources(complete.Option{FileType: "go", Input: "fo"})))
	assert.Equal(t, []string{"gopls"}, names(r.CompleteSources(complete.Option{FileType: "go", TriggerCharacter: "."})))
	assert.Equal(t, []string{"css"}, names(r.CompleteSources(complete.Option{FileType: "go", Source: "css"})))
	assert.Empty(t, r.CompleteSources(complete.Option{Source: "missing"}))

	r.SetEnabled("words", false)
	assert.Equal(t, []string{"gopls"}, names(r.CompleteSources(complete.Option{FileType: "go", Input: "fo"})))
	r.SetDisabled(nil)
	assert.True(t, r.Enabled("words"))

	assert.True(t, r.ShouldTrigger("fmt.", "go"))
	assert.False(t, r.ShouldTrigger("fmt.", "css"))
	assert.Equal(t, ":", r.TriggerCharacter("color:", "css"))

	_, err := r.Get("nope")
	assert.True(t, errors.Is(err, ErrUnknownSource))

	r.Unregister("gopls")
	assert.Equal(t, []string{"words", "css"}, r.Names())
}

func TestAround(t *testing.T) {
	doc := &testDoc{
		bufnr:   1,
		version: 1,
		lines:   []string{"func Foo() { foobar := fox }", "fo"},
		chars:   utils.NewWordChars(""),
	}
	a := NewAround(testDocs{1: doc}, 1)
	opt := complete.Option{Bufnr: 1, Linenr: 2, Col: 0, Colnr: 3, Line: "fo", Input: "fo"}

	res, err := a.Provide(context.Background(), opt)
	require.NoError(t, err)
	var got []string
	for _, it := range res.Items {
		got = append(got, it.Word)
	}
	assert.ElementsMatch(t, []string{"func", "foobar", "fox", "Foo"}, got)

	doc.lines = append(doc.lines, "fondue")
	res, err = a.Provide(context.Background(), opt)
	require.NoError(t, err)
	assert.Len(t, res.Items, 4, "index is cached per version")

	doc.version++
	res, err = a.Provide(context.Background(), opt)
	require.NoError(t, err)
	assert.Len(t, res.Items, 5)

	a.Forget(1)
	res, err = a.Provide(context.Background(), complete.Option{Bufnr: 2, Input: "f"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDictionary_Pages(t *testing.T) {
	dict := dictionary.New()
	dict.Add("apple", 3)
	dict.Add("apply", 1)
	dict.Add("apricot", 2)
	dict.Add("banana", 1)
	d := NewDictionary(dict, 5, 2)

	res, err := d.Provide(context.Background(), complete.Option{Input: "Ap"})
	require.NoError(t, err)
	require.True(t, res.IsIncomplete)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Apply", res.Items[0].Word)
	assert.Equal(t, "00001", res.Items[0].SortText)
	assert.Equal(t, "Apricot", res.Items[1].Word)

	res, err = d.Provide(context.Background(), complete.Option{Input: "appl"})
	require.NoError(t, err)
	assert.False(t, res.IsIncomplete)
	assert.Len(t, res.Items, 2)
}

type fakeClient struct {
	list     *protocol.CompletionList
	params   *protocol.CompletionParams
	resolved *protocol.CompletionItem
	executed []string
}

func (c *fakeClient) Completion(_ context.Context, p *protocol.CompletionParams) (*protocol.CompletionList, error) {
	c.params = p
	return c.list, nil
}

func (c *fakeClient) ResolveCompletionItem(_ context.Context, li *protocol.CompletionItem) (*protocol.CompletionItem, error) {
	if c.resolved == nil {
		return li, nil
	}
	return c.resolved, nil
}

func (c *fakeClient) ExecuteCommand(_ context.Context, p *protocol.ExecuteCommandParams) error {
	c.executed = append(c.executed, p.Command)
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestLanguage_Provide(t *testing.T) {
	kind := protocol.CompletionItemKindFunction
	client := &fakeClient{list: &protocol.CompletionList{
		IsIncomplete: true,
		Items: []protocol.CompletionItem{
			{
				Label:            "Println",
				Kind:             &kind,
				Detail:           ptr("func(a ...any)"),
				InsertText:       ptr("Println(${1:a})"),
				InsertTextFormat: ptr(protocol.InsertTextFormatSnippet),
				CommitCharacters: []string{"("},
				Command:          &protocol.Command{Title: "imports", Command: "organize"},
				Documentation:    protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: "prints"},
			},
			{Label: "Printf", SortText: ptr("b")},
		},
	}}
	l := NewLanguage(client, LanguageOptions{Name: "gopls", TriggerCharacters: []string{"."}, Priority: 99})
	opt := complete.Option{Bufnr: 3, Linenr: 2, Col: 4, Colnr: 7, Line: "fmt.Pr", Input: "Pr", TriggerCharacter: "."}

	res, err := l.Provide(context.Background(), opt)
	require.NoError(t, err)
	assert.True(t, res.IsIncomplete)
	assert.Nil(t, res.StartCol)
	require.Len(t, res.Items, 2)

	first := res.Items[0]
	assert.Equal(t, "Println(", first.Word)
	assert.Equal(t, "Println", first.Abbr)
	assert.True(t, first.IsSnippet)
	assert.True(t, first.HasDetail)
	assert.Equal(t, "Function", first.Kind)
	assert.Equal(t, []complete.Documentation{
		{Kind: complete.DocPlainText, Content: "func(a ...any)"},
		{Kind: complete.DocMarkdown, Content: "prints"},
	}, first.Documentation)
	assert.Equal(t, "b", res.Items[1].SortText)

	assert.EqualValues(t, 1, client.params.Position.Line)
	assert.EqualValues(t, 6, client.params.Position.Character)
	assert.Equal(t, protocol.DocumentUri("buffer://3"), client.params.TextDocument.URI)
	assert.Equal(t, protocol.CompletionTriggerKindTriggerCharacter, client.params.Context.TriggerKind)

	assert.True(t, l.ShouldCommit(first, "("))
	assert.False(t, l.ShouldCommit(first, "."))

	require.NoError(t, l.OnAccept(context.Background(), first, opt))
	assert.Equal(t, []string{"organize"}, client.executed)
}

func TestLanguage_TextEditMovesStart(t *testing.T) {
	client := &fakeClient{list: &protocol.CompletionList{Items: []protocol.CompletionItem{{
		Label: "@media",
		TextEdit: protocol.TextEdit{
			Range: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 0, Character: 2},
			},
			NewText: "@media",
		},
	}}}}
	l := NewLanguage(client, LanguageOptions{Name: "css"})
	res, err := l.Provide(context.Background(), complete.Option{Linenr: 1, Col: 1, Colnr: 3, Line: "@m", Input: "m"})
	require.NoError(t, err)
	require.NotNil(t, res.StartCol)
	assert.Equal(t, 0, *res.StartCol)
	assert.Equal(t, "@media", res.Items[0].Word)
}

func TestLanguage_Resolve(t *testing.T) {
	client := &fakeClient{resolved: &protocol.CompletionItem{Label: "x", Documentation: "resolved docs"}}
	l := NewLanguage(client, LanguageOptions{Name: "ls"})
	item := &complete.Item{Word: "x", Data: &protocol.CompletionItem{Label: "x"}}

	require.NoError(t, l.Resolve(context.Background(), item))
	assert.Equal(t, []complete.Documentation{{Kind: complete.DocPlainText, Content: "resolved docs"}}, item.Documentation)
}

func TestSnippetPrefix(t *testing.T) {
	assert.Equal(t, "for ", snippetPrefix("for ${1:i} := range"))
	assert.Equal(t, "a$b", snippetPrefix(`a\$b`))
	assert.Equal(t, "plain", snippetPrefix("plain"))
}
