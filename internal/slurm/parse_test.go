package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullDocument(t *testing.T) {
	data := []byte(`{
		"slurmVersion": 1,
		"validationOutputFilters": {
			"prefixFilters": [
				{"prefix": "192.0.2.0/24", "comment": "known bad"},
				{"asn": 64496, "comment": "known bad ASN"}
			],
			"bgpsecFilters": [
				{"asn": 64497, "comment": "revoke this ASN's keys"}
			]
		},
		"locallyAddedAssertions": {
			"prefixAssertions": [
				{"asn": 65000, "prefix": "198.51.100.0/24", "maxPrefixLength": 24, "comment": "local override"}
			],
			"bgpsecAssertions": []
		}
	}`)

	doc, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, doc.PrefixFilters, 2)
	assert.True(t, doc.PrefixFilters[0].HasPrefix)
	assert.False(t, doc.PrefixFilters[0].HasASN)
	assert.True(t, doc.PrefixFilters[1].HasASN)
	assert.Equal(t, uint32(64496), doc.PrefixFilters[1].ASN)

	require.Len(t, doc.BGPsecFilters, 1)
	assert.Equal(t, uint32(64497), doc.BGPsecFilters[0].ASN)

	require.Len(t, doc.PrefixAssertions, 1)
	assert.Equal(t, uint32(65000), doc.PrefixAssertions[0].ASN)
	assert.Equal(t, uint8(24), doc.PrefixAssertions[0].MaxLength)
}

func TestParse_MissingVersion(t *testing.T) {
	_, err := Parse([]byte(`{"validationOutputFilters": {}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParse_PrefixFilterNeedsASNOrPrefix(t *testing.T) {
	data := []byte(`{"slurmVersion": 1, "validationOutputFilters": {"prefixFilters": [{"comment": "useless"}]}}`)
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParse_ConflictingAssertions(t *testing.T) {
	data := []byte(`{
		"slurmVersion": 1,
		"locallyAddedAssertions": {
			"prefixAssertions": [
				{"asn": 65000, "prefix": "198.51.100.0/24", "maxPrefixLength": 24},
				{"asn": 65000, "prefix": "198.51.100.0/24", "maxPrefixLength": 32}
			]
		}
	}`)
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestParse_PrefixAssertionDefaultsMaxLength(t *testing.T) {
	data := []byte(`{
		"slurmVersion": 1,
		"locallyAddedAssertions": {
			"prefixAssertions": [{"asn": 65000, "prefix": "198.51.100.0/24"}]
		}
	}`)
	doc, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, doc.PrefixAssertions, 1)
	assert.Equal(t, uint8(24), doc.PrefixAssertions[0].MaxLength)
}
