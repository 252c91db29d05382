package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-scanner/internal/config"
	scanerrors "github.com/market-scanner/internal/errors"
)

func newTestClient(baseURL string) *Client {
	return New(&config.UpstreamConfig{
		BaseURL:       baseURL,
		LanguageCode:  "pt",
		ListTimeout:   2 * time.Second,
		DetailTimeout: 2 * time.Second,
	})
}

func TestListPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nft/lists", r.URL.Path)
		assert.Equal(t, "sale", r.URL.Query().Get("listType"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "pt", r.URL.Query().Get("languageCode"))

		// Mixed scalar types the way the live endpoint serves them
		_, _ = w.Write([]byte(`{"data":{"totalCount":120,"lists":[
			{"seq":12345,"transportID":"777","characterName":"Trader","lv":"130","powerScore":205000,"price":"9,200","tradeType":1}
		]}}`))
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL).ListPage(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 120, page.TotalCount)
	require.Len(t, page.Lists, 1)

	listing := page.Lists[0]
	assert.Equal(t, "12345", listing.Seq.String())
	assert.Equal(t, 130, listing.Level.Int())
	assert.Equal(t, float64(9200), listing.Price.Float64())
}

func TestFetch_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListPage(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, scanerrors.GetHTTPStatusCode(err))
}

func TestFetch_MalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListPage(context.Background(), 1)
	require.Error(t, err)

	var catErr *scanerrors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, "MALFORMED_RESPONSE", catErr.Code)
}

func TestFetch_Unreachable(t *testing.T) {
	// Port from a closed listener: connection refused
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).ListPage(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, scanerrors.IsTransient(err))
}

func TestSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nft/character/summary", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("seq"))

		_, _ = w.Write([]byte(`{"data":{
			"character":{"name":"Trader","worldName":"ASIA11","class":3,"level":130,"powerScore":205000},
			"price":"9200","tradeType":2,"sealedTS":1700000000,
			"equipItem":{"1":{"itemType":"2_3","itemIdx":1711001,"itemName":"Espada","grade":5,"tier":"IV","enhance":8}}
		}}`))
	}))
	defer srv.Close()

	summary, err := newTestClient(srv.URL).Summary(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "Trader", summary.Character.Name)
	assert.Equal(t, "3", summary.Character.Class.String())
	assert.Equal(t, 2, summary.TradeType.Int())
	require.Contains(t, summary.EquipItem, "1")
	assert.Equal(t, "1711001", summary.EquipItem["1"].ItemIdx.String())
}

func TestSpirit_AlwaysRequestsEnglish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en", r.URL.Query().Get("languageCode"))
		_, _ = w.Write([]byte(`{"data":{"equip":[{"petName":"Phoenix","grade":5,"transcend":2,"iconPath":"/p.png"}],"inven":[]}}`))
	}))
	defer srv.Close()

	spirits, err := newTestClient(srv.URL).Spirit(context.Background(), "777")
	require.NoError(t, err)
	require.Len(t, spirits.Equip, 1)
	assert.Equal(t, "Phoenix", spirits.Equip[0].PetName)
}

func TestPotential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"total":"415"}}`))
	}))
	defer srv.Close()

	total, err := newTestClient(srv.URL).Potential(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, 415, total)
}

func TestTrainingDecoding(t *testing.T) {
	var training TrainingData
	payload := `{
		"consitutionLevel":"7",
		"collectLevel":3,
		"0":{"forceIdx":"0","forceLevel":15,"forceName":"Violet Mist Art"},
		"2":{"forceIdx":"2","forceLevel":"8","forceName":"Nine Yin Art"}
	}`
	require.NoError(t, json.Unmarshal([]byte(payload), &training))

	assert.Equal(t, 7, training.ConstitutionLevel)
	assert.Equal(t, 3, training.CollectLevel)
	require.Len(t, training.Forces, 2)
	assert.Equal(t, 15, training.Forces[0].ForceLevel.Int())
	assert.Equal(t, "Nine Yin Art", training.Forces[1].ForceName)
}

func TestFlexScalars(t *testing.T) {
	var v struct {
		S FlexString `json:"s"`
		I FlexInt    `json:"i"`
		F FlexFloat  `json:"f"`
	}

	tests := []struct {
		name    string
		payload string
		s       string
		i       int
		f       float64
	}{
		{name: "quoted numbers", payload: `{"s":"abc","i":"42","f":"1,234.5"}`, s: "abc", i: 42, f: 1234.5},
		{name: "bare numbers", payload: `{"s":99,"i":42,"f":1234.5}`, s: "99", i: 42, f: 1234.5},
		{name: "nulls collapse to zero", payload: `{"s":null,"i":null,"f":null}`, s: "", i: 0, f: 0},
		{name: "garbage collapses to zero", payload: `{"s":"x","i":"lots","f":"-"}`, s: "x", i: 0, f: 0},
		{name: "float-typed int", payload: `{"s":"x","i":"4.0","f":"0"}`, s: "x", i: 4, f: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &v))
			assert.Equal(t, tt.s, v.S.String())
			assert.Equal(t, tt.i, v.I.Int())
			assert.InDelta(t, tt.f, v.F.Float64(), 0.0001)
		})
	}
}
