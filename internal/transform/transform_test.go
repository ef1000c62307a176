package transform

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/docmigrate/internal/document"
)

var (
	prod    = Endpoint{Name: "production", Namespace: "acme-prod.appspot.com", Production: true}
	staging = Endpoint{Name: "staging", Namespace: "acme-staging.appspot.com"}
	dev     = Endpoint{Name: "development", Namespace: "acme-dev.appspot.com"}
)

func customer() document.Document {
	return document.Document{ID: "cust-1", Data: document.MustMap(map[string]any{
		"name":  "Ana",
		"CPF":   "123.456.789-09",
		"cnpj":  "12.345.678/0001-95",
		"phone": 5511987654321,
		"photo": "https://storage.googleapis.com/acme-prod.appspot.com/u/1.png",
		"contacts": []any{
			map[string]any{"telefone": "+55 11 91234-5678", "label": "home"},
		},
		"mobile": []any{"11999990000", nil},
	})}
}

func TestSanitizesForNonProduction(t *testing.T) {
	p := New(DefaultRules())
	out := p.Apply(customer(), prod, staging)

	assert.Equal(t, "cust-1", out.ID)
	assert.Equal(t, document.String(DefaultNationalIDMask), out.Data["CPF"])
	assert.Equal(t, document.String(DefaultTaxIDMask), out.Data["cnpj"])
	assert.Equal(t, document.String("5511*****"), out.Data["phone"])
	assert.Equal(t, document.String("Ana"), out.Data["name"])

	contact, ok := out.Data.Lookup([]string{"contacts"})
	require.True(t, ok)
	nested := contact.Items()[0].Fields()
	assert.Equal(t, document.String("+55 *****"), nested["telefone"])
	assert.Equal(t, document.String("home"), nested["label"])

	mobiles := out.Data["mobile"].Items()
	assert.Equal(t, document.String("1199*****"), mobiles[0])
	assert.True(t, mobiles[1].IsNull())
}

func TestRewritesNamespaceAcrossEnvironments(t *testing.T) {
	out := New(DefaultRules()).Apply(customer(), prod, staging)
	assert.Equal(t, document.String("https://storage.googleapis.com/acme-staging.appspot.com/u/1.png"), out.Data["photo"])

	same := New(DefaultRules()).Apply(customer(), staging, staging)
	assert.Equal(t, customer().Data["photo"], same.Data["photo"])

	src := Endpoint{Name: "custom", Namespace: "acme-prod.appspot.com"}
	dst := Endpoint{Name: "custom", Namespace: "acme-qa.appspot.com"}
	custom := New(DefaultRules()).Apply(customer(), src, dst)
	assert.Equal(t, document.String("https://storage.googleapis.com/acme-qa.appspot.com/u/1.png"), custom.Data["photo"])
}

func TestProductionTargetKeepsSensitiveFields(t *testing.T) {
	in := customer()
	out := New(DefaultRules()).Apply(in, staging, prod)
	assert.Equal(t, in.Data["CPF"], out.Data["CPF"])
	assert.Equal(t, in.Data["phone"], out.Data["phone"])
}

func TestApplyIsPureAndDeterministic(t *testing.T) {
	p := New(DefaultRules())
	in := customer()
	before := in.Clone()
	first := p.Apply(in, prod, dev)
	second := p.Apply(in, prod, dev)
	assert.True(t, first.Equal(second))
	assert.True(t, in.Equal(before), "input must not be mutated")
}

func TestMaskedValuesMatchPatterns(t *testing.T) {
	p := New(DefaultRules())
	phone := regexp.MustCompile(`^.{0,4}\*{5}$`)
	inputs := []document.Value{
		document.String("5511987654321"),
		document.Int(21987654321),
		document.String("12"),
		document.Float(5511.5),
	}
	for _, in := range inputs {
		doc := document.Document{ID: "c-1", Data: document.Map{"Phone": in, "nickname": document.String("x")}}
		out := p.Apply(doc, staging, dev)
		s, _ := out.Data["Phone"].StringValue()
		assert.Regexp(t, phone, s)
		assert.False(t, out.Data["Phone"].Equal(in))
		assert.True(t, out.Data["nickname"].Equal(document.String("x")))
	}
}
