// Package transform rewrites documents as they move between environments.
// Apply is pure: it never mutates its input and introduces no randomness or
// timestamps.
package transform

import (
	"strings"

	"github.com/rowjay/docmigrate/internal/config"
	"github.com/rowjay/docmigrate/internal/document"
)

const (
	DefaultTaxIDMask      = "00.000.000/0000-00"
	DefaultNationalIDMask = "***.***.***-**"
	PhoneMaskSuffix       = "*****"
	DefaultPhonePrefixLen = 4
)

// Endpoint is the part of an environment the pipeline looks at.
type Endpoint struct {
	Name       string
	Namespace  string
	Production bool
}

type maskKind int

const (
	maskNone maskKind = iota
	maskTaxID
	maskNationalID
	maskPhone
)

// Rules configures which field names are sensitive. Names match
// case-insensitively at any depth.
type Rules struct {
	TaxIDFields      []string
	NationalIDFields []string
	PhoneFields      []string
	PhonePrefixLen   int
	TaxIDMask        string
	NationalIDMask   string
}

func DefaultRules() Rules {
	return Rules{
		TaxIDFields:      []string{"cnpj", "taxId", "tax_id"},
		NationalIDFields: []string{"cpf", "nationalId", "national_id", "ssn"},
		PhoneFields:      []string{"phone", "telefone", "mobile"},
		PhonePrefixLen:   DefaultPhonePrefixLen,
	}
}

func RulesFromConfig(cfg config.SanitizeConfig) Rules {
	return Rules{
		TaxIDFields:      cfg.TaxIDFields,
		NationalIDFields: cfg.NationalIDFields,
		PhoneFields:      cfg.PhoneFields,
		PhonePrefixLen:   cfg.PhonePrefixLen,
		TaxIDMask:        cfg.TaxIDMask,
		NationalIDMask:   cfg.NationalIDMask,
	}
}

type Pipeline struct {
	fields         map[string]maskKind
	phonePrefixLen int
	taxIDMask      string
	nationalIDMask string
}

func New(rules Rules) *Pipeline {
	p := &Pipeline{
		fields:         map[string]maskKind{},
		phonePrefixLen: rules.PhonePrefixLen,
		taxIDMask:      rules.TaxIDMask,
		nationalIDMask: rules.NationalIDMask,
	}
	if p.phonePrefixLen <= 0 {
		p.phonePrefixLen = DefaultPhonePrefixLen
	}
	if p.taxIDMask == "" {
		p.taxIDMask = DefaultTaxIDMask
	}
	if p.nationalIDMask == "" {
		p.nationalIDMask = DefaultNationalIDMask
	}
	for _, f := range rules.TaxIDFields {
		p.fields[strings.ToLower(f)] = maskTaxID
	}
	for _, f := range rules.NationalIDFields {
		p.fields[strings.ToLower(f)] = maskNationalID
	}
	for _, f := range rules.PhoneFields {
		p.fields[strings.ToLower(f)] = maskPhone
	}
	return p
}

// Apply returns the document as it should be written to tgt. Namespace
// references are rewritten when both namespaces are known and differ, even
// between two environments of the same name (two custom credential files).
// Sensitive fields are masked when tgt is not production. The id is never
// changed.
func (p *Pipeline) Apply(doc document.Document, src, tgt Endpoint) document.Document {
	rewrite := src.Namespace != "" && tgt.Namespace != "" && src.Namespace != tgt.Namespace
	sanitize := !tgt.Production
	if !rewrite && !sanitize {
		return doc.Clone()
	}
	r := run{p: p, sanitize: sanitize}
	if rewrite {
		r.replacer = strings.NewReplacer(src.Namespace, tgt.Namespace)
	}
	return document.Document{ID: doc.ID, IDKind: doc.IDKind, Data: r.mapValue(doc.Data)}
}

func (p *Pipeline) mask(kind maskKind, v document.Value) document.Value {
	switch kind {
	case maskTaxID:
		return document.String(p.taxIDMask)
	case maskNationalID:
		return document.String(p.nationalIDMask)
	case maskPhone:
		text := []rune(v.Text())
		if len(text) > p.phonePrefixLen {
			text = text[:p.phonePrefixLen]
		}
		return document.String(string(text) + PhoneMaskSuffix)
	}
	return v
}

type run struct {
	p        *Pipeline
	sanitize bool
	replacer *strings.Replacer
}

func (r run) mapValue(m document.Map) document.Map {
	if m == nil {
		return nil
	}
	out := make(document.Map, len(m))
	for k, v := range m {
		kind := maskNone
		if r.sanitize {
			kind = r.p.fields[strings.ToLower(k)]
		}
		out[k] = r.field(kind, v)
	}
	return out
}

// field walks a value; kind is the mask of the enclosing field name, which
// also applies to scalars inside a list (a list of phone numbers).
func (r run) field(kind maskKind, v document.Value) document.Value {
	switch v.Kind() {
	case document.KindMap:
		return document.Object(r.mapValue(v.Fields()))
	case document.KindList:
		items := v.Items()
		out := make([]document.Value, len(items))
		for i, item := range items {
			out[i] = r.field(kind, item)
		}
		return document.List(out...)
	case document.KindNull:
		return v
	}
	if kind != maskNone {
		return r.p.mask(kind, v)
	}
	if s, ok := v.StringValue(); ok && r.replacer != nil {
		return document.String(r.replacer.Replace(s))
	}
	return v.Clone()
}
