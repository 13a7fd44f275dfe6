package usecases

import (
	"reflect"
	"testing"

	"whatsapp_ai_backend/internal/entities"
)

func testCatalog() []entities.Product {
	return []entities.Product{
		{ID: "p-visa", Name: "Visto Americano", Slug: "visto-americano"},
		{ID: "p-pass", Name: "Passaporte", Slug: "passaporte"},
		{ID: "p-ins", Name: "Seguro Viagem", Slug: "seguro-viagem"},
	}
}

func TestDetectAliasMatch(t *testing.T) {
	d := NewProductDetector(DefaultProductAliases)
	got := d.Detect("Quero só o visto, por favor", testCatalog())
	if !reflect.DeepEqual(got, []string{"p-visa"}) {
		t.Fatalf("expected [p-visa], got %v", got)
	}
}

func TestDetectLiteralNameCaseInsensitive(t *testing.T) {
	d := NewProductDetector(nil)
	got := d.Detect("quanto custa o PASSAPORTE?", testCatalog())
	if !reflect.DeepEqual(got, []string{"p-pass"}) {
		t.Fatalf("expected [p-pass], got %v", got)
	}
}

func TestDetectSlugVariants(t *testing.T) {
	d := NewProductDetector(nil)
	cases := map[string]string{
		"tem seguro-viagem?":  "p-ins",
		"tem seguro viagem?":  "p-ins",
		"tem seguroviagem?":   "p-ins",
		"visto americano sim": "p-visa",
	}
	for text, want := range cases {
		got := d.Detect(text, testCatalog())
		if !reflect.DeepEqual(got, []string{want}) {
			t.Fatalf("%q: expected [%s], got %v", text, want, got)
		}
	}
}

func TestDetectAccumulatesMultipleProducts(t *testing.T) {
	d := NewProductDetector(DefaultProductAliases)
	got := d.Detect("preciso do passaporte e do visto americano", testCatalog())
	want := []string{"p-pass", "p-visa"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDetectNoMatch(t *testing.T) {
	d := NewProductDetector(DefaultProductAliases)
	if got := d.Detect("qual o horário de atendimento?", testCatalog()); len(got) != 0 {
		t.Fatalf("expected no products, got %v", got)
	}
}

func TestDetectIgnoresAliasForUnknownSlug(t *testing.T) {
	d := NewProductDetector(map[string][]string{"missing": {"only the visa"}})
	if got := d.Detect("only the visa", testCatalog()); len(got) != 0 {
		t.Fatalf("expected alias without catalog product to be ignored, got %v", got)
	}
}

func TestIsDisambiguation(t *testing.T) {
	yes := []string{"only the visa", "Just the passport", "só o visto", "apenas isso"}
	no := []string{"quanto custa?", "justice", "sobre o visto", "so a friend told me about it", "so o que preciso?"}
	for _, text := range yes {
		if !IsDisambiguation(text) {
			t.Fatalf("expected %q to be a disambiguation", text)
		}
	}
	for _, text := range no {
		if IsDisambiguation(text) {
			t.Fatalf("expected %q not to be a disambiguation", text)
		}
	}
}
