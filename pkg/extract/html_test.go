package extract

import (
	"context"
	"errors"
	"testing"
)

const productPage = `<!DOCTYPE html>
<html><head>
<title>Shop</title>
<meta property="og:image" content="/content/images/kettle.webp">
<meta property="product:brand" content="Acme">
</head><body>
<h1 class="prod-title">  Електрочайник   X1 </h1>
<div class="product-description"><p>Сталевий корпус.</p><p>Швидке закипання.</p></div>
<table class="product-features">
<tr><td>Потужність:</td><td>2200 Вт</td></tr>
<tr><td>Об'єм</td><td>1,7 л</td></tr>
<tr><td>only one cell</td></tr>
</table>
<ul class="product-advantages"><li>Тихий</li><li> </li><li>Легкий</li></ul>
</body></html>`

func TestHTMLExtractor_ProductPage(t *testing.T) {
	f, err := New().Extract(context.Background(), []byte(productPage), "https://shop.test/kettle-x1", "ua")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if f.Title != "Електрочайник X1" {
		t.Errorf("Title = %q", f.Title)
	}
	if f.Description != "Сталевий корпус. Швидке закипання." {
		t.Errorf("Description = %q", f.Description)
	}
	if f.Brand != "Acme" {
		t.Errorf("Brand = %q", f.Brand)
	}
	if f.Image != "https://shop.test/content/images/kettle.webp" {
		t.Errorf("Image = %q", f.Image)
	}
	if len(f.Specs) != 2 || f.Specs[0].Name != "Потужність" || f.Specs[0].Value != "2200 Вт" {
		t.Errorf("Specs = %+v", f.Specs)
	}
	if len(f.Advantages) != 2 {
		t.Errorf("Advantages = %+v", f.Advantages)
	}
	if f.Key != "https://shop.test/kettle-x1" || f.Locale != "ua" {
		t.Errorf("Key/Locale = %q/%q", f.Key, f.Locale)
	}
}

func TestHTMLExtractor_Fallbacks(t *testing.T) {
	page := `<html><head>
<meta property="og:title" content="Lamp">
<meta name="description" content="A desk lamp">
</head><body>
<ul class="characteristics"><li>Brand: Lumo</li><li>no separator</li></ul>
<div class="product-gallery"><img data-src="https://cdn.test/lamp.jpg"></div>
</body></html>`

	f, err := New().Extract(context.Background(), []byte(page), "https://shop.test/lamp", "ru")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if f.Title != "Lamp" {
		t.Errorf("Title = %q", f.Title)
	}
	if f.Description != "A desk lamp" {
		t.Errorf("Description = %q", f.Description)
	}
	if f.Brand != "Lumo" {
		t.Errorf("Brand = %q, want value from specs", f.Brand)
	}
	if f.Image != "https://cdn.test/lamp.jpg" {
		t.Errorf("Image = %q", f.Image)
	}
}

func TestHTMLExtractor_Errors(t *testing.T) {
	x := New()
	ctx := context.Background()

	if _, err := x.Extract(ctx, []byte("   "), "k", "ua"); !errors.Is(err, ErrEmptyPage) {
		t.Errorf("empty page error = %v", err)
	}
	if _, err := x.Extract(ctx, []byte("<html><body><p>login</p></body></html>"), "k", "ua"); !errors.Is(err, ErrNotProductPage) {
		t.Errorf("non-product page error = %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := x.Extract(canceled, []byte(productPage), "k", "ua"); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled error = %v", err)
	}
}
