package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var renderNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func sampleItem() domain.Item {
	return domain.Item{
		ID:             "42",
		DisplayName:    "Bakery \"Central\"",
		ItemsAvailable: 2,
		Price:          domain.Price{MinorUnits: 450, Decimals: 2, Currency: "EUR"},
		Pickup: &domain.PickupWindow{
			Start: time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC),
		},
	}
}

func TestParseTemplate_Render(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "no placeholders", text: "hello", want: "hello"},
		{name: "empty", text: "", want: ""},
		{
			name: "all attributes",
			text: "${{item_id}}|${{items_available}}|${{display_name}}|${{price}}|${{currency}}|${{pickupdate}}",
			want: `42|2|Bakery "Central"|4.50|EUR|Today, 18:00 - 18:30`,
		},
		{name: "repeated", text: "${{item_id}}-${{item_id}}", want: "42-42"},
		{name: "adjacent literals", text: "id=${{item_id}}!", want: "id=42!"},
		{name: "not a placeholder", text: "${item_id} ${{ item_id }}", want: "${item_id} ${{ item_id }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := ParseTemplate("test", tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tmpl.Render(sampleItem(), renderNow))
			assert.Equal(t, tt.text, tmpl.String())
		})
	}
}

func TestParseTemplate_UnknownPlaceholder(t *testing.T) {
	_, err := ParseTemplate("webhook", "value=${{unknown_field}}")
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "webhook", cfgErr.Component)
	assert.Contains(t, cfgErr.Reason, "unknown_field")
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestTemplate_RenderEscaped(t *testing.T) {
	tmpl, err := ParseTemplate("test", `{"name":"${{display_name}}"}`)
	require.NoError(t, err)

	out := tmpl.RenderEscaped(sampleItem(), renderNow, func(s string) string {
		b, _ := json.Marshal(s)
		return string(b[1 : len(b)-1])
	})

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, `Bakery "Central"`, decoded["name"])
}

func TestTemplate_Empty(t *testing.T) {
	var nilTmpl *Template
	assert.True(t, nilTmpl.Empty())
	assert.True(t, MustParseTemplate("test", "").Empty())
	assert.False(t, MustParseTemplate("test", "x").Empty())
	assert.Panics(t, func() { MustParseTemplate("test", "${{nope}}") })
}

func TestFormatPrice(t *testing.T) {
	assert.Contains(t, FormatPrice(domain.Price{MinorUnits: 1099, Decimals: 2, Currency: "EUR"}), "10.99")
	assert.Contains(t, FormatPrice(domain.Price{MinorUnits: 1099, Decimals: 2, Currency: "EUR"}), "€")
	assert.Equal(t, "3.50", FormatPrice(domain.Price{MinorUnits: 350, Decimals: 2}))
	assert.Equal(t, "1.00 ZZZZ", FormatPrice(domain.Price{MinorUnits: 100, Decimals: 2, Currency: "ZZZZ"}))
}
