package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/pkg/config"
	"github.com/ycwei/twstock/pkg/logger"
)

// probeSource only answers probes; fetching is not exercised here.
type probeSource struct {
	market Market
	known  map[string]bool
	probed []string
}

func (p *probeSource) Market() Market { return p.market }

func (p *probeSource) FetchMonth(context.Context, string, int, time.Month) ([]series.PricePoint, error) {
	return nil, nil
}

func (p *probeSource) FetchRange(context.Context, string, time.Time, time.Time) ([]series.PricePoint, error) {
	return nil, nil
}

func (p *probeSource) Probe(_ context.Context, code string) bool {
	p.probed = append(p.probed, code)
	return p.known[code]
}

func (p *probeSource) TestConnection(context.Context) bool { return true }

func newTestClassifier(static map[string]Market, tse, tpex Source) *Classifier {
	log := logger.New(&config.Config{Env: "test", LogLevel: "error", LogFormat: "json"})
	return NewClassifier(static, tse, tpex, log)
}

func TestClassify_StaticMapWins(t *testing.T) {
	tse := &probeSource{market: TSE}
	tpex := &probeSource{market: TPEX}
	c := newTestClassifier(map[string]Market{"2330": TSE, "5483": TPEX}, tse, tpex)

	assert.Equal(t, TSE, c.Classify(context.Background(), "2330"))
	assert.Equal(t, TPEX, c.Classify(context.Background(), "5483"))
	assert.Empty(t, tse.probed)
	assert.Empty(t, tpex.probed)
}

func TestClassify_ProbesTSEFirst(t *testing.T) {
	tse := &probeSource{market: TSE, known: map[string]bool{"2603": true}}
	tpex := &probeSource{market: TPEX, known: map[string]bool{"2603": true}}
	c := newTestClassifier(nil, tse, tpex)

	assert.Equal(t, TSE, c.Classify(context.Background(), "2603"))
	assert.Empty(t, tpex.probed, "TPEX must not be probed when TSE claims the symbol")
}

func TestClassify_FallsBackToTPEX(t *testing.T) {
	tse := &probeSource{market: TSE}
	tpex := &probeSource{market: TPEX, known: map[string]bool{"6488": true}}
	c := newTestClassifier(nil, tse, tpex)

	assert.Equal(t, TPEX, c.Classify(context.Background(), "6488"))
}

func TestClassify_UnknownWhenNoProbeMatches(t *testing.T) {
	c := newTestClassifier(nil, &probeSource{market: TSE}, &probeSource{market: TPEX})

	assert.Equal(t, Unknown, c.Classify(context.Background(), "0000"))
}

func TestParseMarket(t *testing.T) {
	tests := []struct {
		tag       string
		want      Market
		wantKnown bool
	}{
		{"TSE", TSE, true},
		{"TPEX", TPEX, true},
		{"OTC", TSE, false},
		{"", TSE, false},
	}

	for _, tt := range tests {
		got, known := ParseMarket(tt.tag)
		assert.Equal(t, tt.want, got, "tag %q", tt.tag)
		assert.Equal(t, tt.wantKnown, known, "tag %q", tt.tag)
	}
}
