package ledger

import (
	"testing"

	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []Entry {
	return []Entry{
		{ID: EventID{Shard: 1, Block: 0, Index: 0}, Key: "foo", Version: 1, Kind: KindPut, Document: []byte(`"bar"`)},
		{ID: EventID{Shard: 2, Block: 0, Index: 0}, Key: "baz", Version: 1, Kind: KindPut, Document: []byte(`"qux"`)},
	}
}

func TestWitnessSignVerify(t *testing.T) {
	id, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)

	w, err := Sign(id.Private, sampleEntries())
	require.NoError(t, err)

	assert.True(t, Verify(id.PublicKey(), w))

	other, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)
	assert.False(t, Verify(other.PublicKey(), w))
}

func TestWitnessArmorRoundTrip(t *testing.T) {
	id, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)

	w, err := Sign(id.Private, sampleEntries())
	require.NoError(t, err)

	armored := Armor(w)
	parsed, err := Parse(armored)
	require.NoError(t, err)

	assert.Equal(t, w.Payload, parsed.Payload)
	assert.Equal(t, w.Signature, parsed.Signature)
	assert.True(t, Verify(id.PublicKey(), parsed))

	// armor(parse(armor(w))) == armor(w), invariant 4.
	assert.Equal(t, armored, Armor(parsed))
}

func TestWitnessArmorFormat(t *testing.T) {
	id, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)
	w, err := Sign(id.Private, sampleEntries())
	require.NoError(t, err)

	armored := string(Armor(w))
	assert.Contains(t, armored, armorHeader)
	assert.Contains(t, armored, armorFooter)
}

func TestWitnessDecode(t *testing.T) {
	id, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)
	w, err := Sign(id.Private, sampleEntries())
	require.NoError(t, err)

	doc, err := w.Decode()
	require.NoError(t, err)
	require.Len(t, doc.Ops, 2)
	assert.Equal(t, "foo", doc.Ops[0].Key)
	assert.Equal(t, "put", doc.Ops[0].Op)
}
