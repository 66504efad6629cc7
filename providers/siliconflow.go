package providers

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ferro-labs/llm-router/models"
)

// SiliconFlowAdapter speaks the openai-compatible chat wire format but reads
// model metadata from SiliconFlow's scraped listing, whose schema drifts
// between releases. gjson keeps the extraction tolerant of those drifts.
type SiliconFlowAdapter struct {
	OpenAIAdapter
}

// NewSiliconFlowAdapter creates the siliconflow-scraped adapter.
func NewSiliconFlowAdapter() *SiliconFlowAdapter { return &SiliconFlowAdapter{} }

// Kind implements Adapter.
func (a *SiliconFlowAdapter) Kind() AdapterKind { return KindSiliconFlow }

// ListModelsPath implements ModelLister.
func (a *SiliconFlowAdapter) ListModelsPath() string { return "/v1/models" }

// ParseModelList implements ModelLister. The scraped payload nests ids under
// either data[].id or models[].name depending on scrape vintage.
func (a *SiliconFlowAdapter) ParseModelList(body []byte) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	gjson.GetBytes(body, "data.#.id").ForEach(func(_, v gjson.Result) bool {
		add(v.String())
		return true
	})
	gjson.GetBytes(body, "models.#.name").ForEach(func(_, v gjson.Result) bool {
		add(v.String())
		return true
	})
	return ids, nil
}

// ParsePricing extracts per-model pricing from a scraped pricing document.
// Prices appear as CNY-per-million-token strings ("￥2.00 / M tokens") or as
// plain numbers depending on the scrape source; both are handled. Unparsable
// entries are skipped.
func (a *SiliconFlowAdapter) ParsePricing(body []byte) map[string]models.Pricing {
	out := make(map[string]models.Pricing)
	gjson.GetBytes(body, "data").ForEach(func(_, entry gjson.Result) bool {
		id := entry.Get("id").String()
		if id == "" {
			id = entry.Get("name").String()
		}
		if id == "" {
			return true
		}
		in := scrapedPrice(entry.Get("pricing.input"), entry.Get("input_price"))
		outp := scrapedPrice(entry.Get("pricing.output"), entry.Get("output_price"))
		p := models.Pricing{
			InputPerToken:  in / 1_000_000,
			OutputPerToken: outp / 1_000_000,
		}
		if in == 0 && outp == 0 && entry.Get("pricing").Exists() {
			p.IsFree = true
		}
		out[id] = p
		return true
	})
	return out
}

// scrapedPrice parses the first non-empty price field, stripping currency
// markers and unit suffixes.
func scrapedPrice(fields ...gjson.Result) float64 {
	for _, f := range fields {
		if !f.Exists() {
			continue
		}
		if f.Type == gjson.Number {
			return f.Float()
		}
		s := f.String()
		s = strings.NewReplacer("￥", "", "¥", "", "$", "", ",", "").Replace(s)
		if i := strings.IndexAny(s, " /"); i >= 0 {
			s = s[:i]
		}
		if v := gjson.Parse(s); v.Type == gjson.Number {
			return v.Float()
		}
	}
	return 0
}
