package sources

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/cockroachdb/errors"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// LanguageClient is the part of a language server connection the language
// source needs.
type LanguageClient interface {
	Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error)
	ResolveCompletionItem(ctx context.Context, item *protocol.CompletionItem) (*protocol.CompletionItem, error)
	ExecuteCommand(ctx context.Context, params *protocol.ExecuteCommandParams) error
}

// LanguageOptions describes one language server source.
type LanguageOptions struct {
	Name              string
	Shortcut          string
	FileTypes         []string
	TriggerCharacters []string
	Priority          int
	// URI maps a buffer to its document URI. Defaults to buffer://<bufnr>.
	URI func(bufnr int) protocol.DocumentUri
}

// Language adapts a language server completion endpoint.
type Language struct {
	opts   LanguageOptions
	client LanguageClient
}

func NewLanguage(client LanguageClient, opts LanguageOptions) *Language {
	if opts.URI == nil {
		opts.URI = func(bufnr int) protocol.DocumentUri {
			return protocol.DocumentUri(fmt.Sprintf("buffer://%d", bufnr))
		}
	}
	if opts.Shortcut == "" {
		opts.Shortcut = "LS"
	}
	return &Language{opts: opts, client: client}
}

func (l *Language) Name() string                { return l.opts.Name }
func (l *Language) Priority() int               { return l.opts.Priority }
func (l *Language) FileTypes() []string         { return l.opts.FileTypes }
func (l *Language) TriggerCharacters() []string { return l.opts.TriggerCharacters }

func (l *Language) Provide(ctx context.Context, opt complete.Option) (*complete.Result, error) {
	cursor := min(max(opt.Colnr-1, 0), len(opt.Line))
	params := &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: l.opts.URI(opt.Bufnr)},
			Position: protocol.Position{
				Line:      protocol.UInteger(max(opt.Linenr-1, 0)),
				Character: protocol.UInteger(utf16Len(opt.Line[:cursor])),
			},
		},
		Context: completionContext(opt),
	}
	list, err := l.client.Completion(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "%s completion", l.opts.Name)
	}
	if list == nil {
		return nil, nil
	}

	res := &complete.Result{IsIncomplete: list.IsIncomplete}
	startCol := -1
	for i := range list.Items {
		li := &list.Items[i]
		item, col := l.convert(li, opt)
		if item == nil {
			continue
		}
		if col >= 0 && (startCol < 0 || col < startCol) {
			startCol = col
		}
		res.Items = append(res.Items, item)
	}
	if startCol >= 0 && startCol != opt.Col {
		res.StartCol = &startCol
	}
	return res, nil
}

func completionContext(opt complete.Option) *protocol.CompletionContext {
	switch {
	case opt.TriggerForIncomplete:
		return &protocol.CompletionContext{TriggerKind: protocol.CompletionTriggerKindTriggerForIncompleteCompletions}
	case opt.TriggerCharacter != "":
		ch := opt.TriggerCharacter
		return &protocol.CompletionContext{TriggerKind: protocol.CompletionTriggerKindTriggerCharacter, TriggerCharacter: &ch}
	default:
		return &protocol.CompletionContext{TriggerKind: protocol.CompletionTriggerKindInvoked}
	}
}

// convert builds an item from li and returns the byte column its edit starts
// at, or -1 when it carries no edit.
func (l *Language) convert(li *protocol.CompletionItem, opt complete.Option) (*complete.Item, int) {
	text := li.Label
	if li.InsertText != nil && *li.InsertText != "" {
		text = *li.InsertText
	}
	col := -1
	if newText, start, ok := editStart(li.TextEdit); ok {
		text = newText
		if int(start.Line) == opt.Linenr-1 {
			col = byteOffset(opt.Line, start.Character)
		}
	}

	snippet := li.InsertTextFormat != nil && *li.InsertTextFormat == protocol.InsertTextFormatSnippet
	word := text
	if snippet {
		word = snippetPrefix(text)
	}
	if i := strings.IndexByte(word, '\n'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		word = li.Label
	}
	if word == "" {
		return nil, -1
	}

	item := &complete.Item{
		Word:          word,
		Abbr:          li.Label,
		Menu:          "[" + l.opts.Shortcut + "]",
		IsSnippet:     snippet,
		Documentation: documentation(li),
		Data:          li,
	}
	if li.Kind != nil {
		item.Kind = kindText(*li.Kind)
	}
	if li.FilterText != nil {
		item.FilterText = *li.FilterText
	}
	if li.SortText != nil {
		item.SortText = *li.SortText
	}
	if li.Detail != nil && *li.Detail != "" {
		item.HasDetail = true
	}
	if li.Preselect != nil && *li.Preselect {
		item.Preselect = true
	}
	return item, col
}

func (l *Language) Resolve(ctx context.Context, item *complete.Item) error {
	li, ok := item.Data.(*protocol.CompletionItem)
	if !ok || len(item.Documentation) > 0 {
		return nil
	}
	resolved, err := l.client.ResolveCompletionItem(ctx, li)
	if err != nil {
		return errors.Wrapf(err, "%s resolve", l.opts.Name)
	}
	if resolved == nil || ctx.Err() != nil {
		return nil
	}
	item.Data = resolved
	item.Documentation = documentation(resolved)
	item.HasDetail = resolved.Detail != nil && *resolved.Detail != ""
	return nil
}

func (l *Language) ShouldCommit(item *complete.Item, ch string) bool {
	li, ok := item.Data.(*protocol.CompletionItem)
	return ok && slices.Contains(li.CommitCharacters, ch)
}

func (l *Language) OnAccept(ctx context.Context, item *complete.Item, _ complete.Option) error {
	li, ok := item.Data.(*protocol.CompletionItem)
	if !ok || li.Command == nil {
		return nil
	}
	return l.client.ExecuteCommand(ctx, &protocol.ExecuteCommandParams{
		Command:   li.Command.Command,
		Arguments: li.Command.Arguments,
	})
}

func documentation(li *protocol.CompletionItem) []complete.Documentation {
	var docs []complete.Documentation
	if li.Detail != nil && strings.TrimSpace(*li.Detail) != "" && *li.Detail != li.Label {
		docs = append(docs, complete.Documentation{Kind: complete.DocPlainText, Content: *li.Detail})
	}
	switch d := li.Documentation.(type) {
	case string:
		if strings.TrimSpace(d) != "" {
			docs = append(docs, complete.Documentation{Kind: complete.DocPlainText, Content: d})
		}
	case protocol.MarkupContent:
		docs = appendMarkup(docs, string(d.Kind), d.Value)
	case *protocol.MarkupContent:
		if d != nil {
			docs = appendMarkup(docs, string(d.Kind), d.Value)
		}
	case map[string]any:
		kind, _ := d["kind"].(string)
		value, _ := d["value"].(string)
		docs = appendMarkup(docs, kind, value)
	}
	return docs
}

func appendMarkup(docs []complete.Documentation, kind, value string) []complete.Documentation {
	if strings.TrimSpace(value) == "" {
		return docs
	}
	if kind != string(protocol.MarkupKindMarkdown) {
		kind = complete.DocPlainText
	}
	return append(docs, complete.Documentation{Kind: kind, Content: value})
}

// editStart extracts the new text and range start of a TextEdit or
// InsertReplaceEdit value.
func editStart(edit any) (string, protocol.Position, bool) {
	switch e := edit.(type) {
	case protocol.TextEdit:
		return e.NewText, e.Range.Start, true
	case *protocol.TextEdit:
		if e != nil {
			return e.NewText, e.Range.Start, true
		}
	case protocol.InsertReplaceEdit:
		return e.NewText, e.Insert.Start, true
	case *protocol.InsertReplaceEdit:
		if e != nil {
			return e.NewText, e.Insert.Start, true
		}
	}
	return "", protocol.Position{}, false
}

// snippetPrefix returns the literal text before the first tab stop.
func snippetPrefix(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '$':
			return strings.ReplaceAll(s[:i], `\`, "")
		}
	}
	return strings.ReplaceAll(s, `\`, "")
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// byteOffset converts a UTF-16 character offset on line to a byte column.
func byteOffset(line string, character protocol.UInteger) int {
	units := 0
	for i, r := range line {
		if units >= int(character) {
			return i
		}
		if r == utf8.RuneError {
			units++
			continue
		}
		units += utf16.RuneLen(r)
	}
	return len(line)
}

var kindNames = map[protocol.CompletionItemKind]string{
	protocol.CompletionItemKindText:          "Text",
	protocol.CompletionItemKindMethod:        "Method",
	protocol.CompletionItemKindFunction:      "Function",
	protocol.CompletionItemKindConstructor:   "Constructor",
	protocol.CompletionItemKindField:         "Field",
	protocol.CompletionItemKindVariable:      "Variable",
	protocol.CompletionItemKindClass:         "Class",
	protocol.CompletionItemKindInterface:     "Interface",
	protocol.CompletionItemKindModule:        "Module",
	protocol.CompletionItemKindProperty:      "Property",
	protocol.CompletionItemKindUnit:          "Unit",
	protocol.CompletionItemKindValue:         "Value",
	protocol.CompletionItemKindEnum:          "Enum",
	protocol.CompletionItemKindKeyword:       "Keyword",
	protocol.CompletionItemKindSnippet:       "Snippet",
	protocol.CompletionItemKindColor:         "Color",
	protocol.CompletionItemKindFile:          "File",
	protocol.CompletionItemKindReference:     "Reference",
	protocol.CompletionItemKindFolder:        "Folder",
	protocol.CompletionItemKindEnumMember:    "EnumMember",
	protocol.CompletionItemKindConstant:      "Constant",
	protocol.CompletionItemKindStruct:        "Struct",
	protocol.CompletionItemKindEvent:         "Event",
	protocol.CompletionItemKindOperator:      "Operator",
	protocol.CompletionItemKindTypeParameter: "TypeParameter",
}

func kindText(k protocol.CompletionItemKind) string {
	return kindNames[k]
}
