package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

func TestMarshalNullable(t *testing.T) {
	var nilParams *types.TxParams
	var nilSite *SiteInfo

	tests := []struct {
		name     string
		value    any
		wantNull bool
		wantJSON string
	}{
		{name: "untyped nil", value: nil, wantNull: true},
		{name: "nil tx params", value: nilParams, wantNull: true},
		{name: "nil site", value: nilSite, wantNull: true},
		{name: "empty raw message", value: json.RawMessage{}, wantNull: true},
		{name: "raw message passes through", value: json.RawMessage(`{"a":1}`), wantJSON: `{"a":1}`},
		{name: "empty tx params", value: &types.TxParams{}, wantJSON: `{"from":""}`},
		{name: "site", value: &SiteInfo{Origin: "https://a.com", Name: "A"}, wantJSON: `{"origin":"https://a.com","name":"A","icon":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := marshalNullable(tt.value)
			require.NoError(t, err)
			if tt.wantNull {
				assert.Nil(t, got)
				return
			}
			assert.JSONEq(t, tt.wantJSON, string(got))
		})
	}
}

func TestDecodeTxParams(t *testing.T) {
	t.Run("null forms", func(t *testing.T) {
		for _, raw := range [][]byte{nil, {}, []byte("null")} {
			p, err := decodeTxParams(raw)
			require.NoError(t, err)
			assert.Nil(t, p)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		in := &types.TxParams{
			From:                 "0xaaa",
			To:                   "0xbbb",
			Value:                "0x1",
			MaxFeePerGas:         "0x3b9aca00",
			MaxPriorityFeePerGas: "0x1",
			Nonce:                "0x7",
			ChainID:              56,
			AuthorizationList: []types.AuthorizationTuple{
				{ChainID: "0x38", Address: "0xccc", Nonce: "0x8"},
			},
		}
		raw, err := marshalNullable(in)
		require.NoError(t, err)

		out, err := decodeTxParams(raw)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := decodeTxParams([]byte(`{"from":`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode raw_tx")
	})
}

func TestDecodeSite(t *testing.T) {
	site, err := decodeSite(nil)
	require.NoError(t, err)
	assert.Nil(t, site)

	site, err = decodeSite([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, site)

	in := &SiteInfo{Origin: "https://a.com", Name: "A", Icon: "https://a.com/i.png"}
	raw, err := marshalNullable(in)
	require.NoError(t, err)
	site, err = decodeSite(raw)
	require.NoError(t, err)
	assert.Equal(t, in, site)

	_, err = decodeSite([]byte("[1]"))
	assert.Error(t, err)
}
