package worklist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openimaging/upsd/internal/worklist"
	"github.com/openimaging/upsd/pkg/api"
)

var matcherDataset = api.Dataset(`{
	"00741000": {"vr": "CS", "Value": ["SCHEDULED"]},
	"00741204": {"vr": "LO", "Value": ["CT Head Routine"]},
	"00400001": {"vr": "AE", "Value": ["STATION1"]}
}`)

func TestMatchFilterExact(t *testing.T) {
	filter := api.Dataset(`{
		"00741000": {"vr": "CS", "Value": ["SCHEDULED"]}
	}`)
	assert.True(t, worklist.MatchFilter(filter, matcherDataset))

	filter = api.Dataset(`{
		"00741000": {"vr": "CS", "Value": ["COMPLETED"]}
	}`)
	assert.False(t, worklist.MatchFilter(filter, matcherDataset))
}

func TestMatchFilterWildcards(t *testing.T) {
	filter := api.Dataset(`{
		"00741204": {"vr": "LO", "Value": ["CT*"]}
	}`)
	assert.True(t, worklist.MatchFilter(filter, matcherDataset))

	filter = api.Dataset(`{
		"00741204": {"vr": "LO", "Value": ["MR*"]}
	}`)
	assert.False(t, worklist.MatchFilter(filter, matcherDataset))

	filter = api.Dataset(`{
		"00400001": {"vr": "AE", "Value": ["STATION?"]}
	}`)
	assert.True(t, worklist.MatchFilter(filter, matcherDataset))
}

func TestMatchFilterMultiValue(t *testing.T) {
	// Any value of a multi-valued query attribute may match
	filter := api.Dataset(`{
		"00741000": {"vr": "CS", "Value": ["COMPLETED", "SCHEDULED"]}
	}`)
	assert.True(t, worklist.MatchFilter(filter, matcherDataset))

	filter = api.Dataset(`{
		"00741000": {"vr": "CS", "Value": ["COMPLETED", "CANCELED"]}
	}`)
	assert.False(t, worklist.MatchFilter(filter, matcherDataset))
}

func TestMatchFilterUniversal(t *testing.T) {
	assert.True(t, worklist.MatchFilter(nil, matcherDataset))
	assert.True(t, worklist.MatchFilter(api.Dataset(`{}`), matcherDataset))

	// Empty and universal wildcard values match anything
	filter := api.Dataset(`{
		"00741204": {"vr": "LO", "Value": ["*"]}
	}`)
	assert.True(t, worklist.MatchFilter(filter, matcherDataset))

	filter = api.Dataset(`{
		"00741204": {"vr": "LO", "Value": []}
	}`)
	assert.True(t, worklist.MatchFilter(filter, matcherDataset))
}

func TestMatchFilterMissingAttribute(t *testing.T) {
	filter := api.Dataset(`{
		"00404041": {"vr": "CS", "Value": ["READY"]}
	}`)
	assert.False(t, worklist.MatchFilter(filter, matcherDataset))
}

func TestMatchParams(t *testing.T) {
	assert.True(t, worklist.MatchParams(nil, matcherDataset))
	assert.True(t, worklist.MatchParams(map[string]string{
		"00741000": "SCHEDULED",
	}, matcherDataset))
	assert.True(t, worklist.MatchParams(map[string]string{
		"00741204": "CT*",
		"00400001": "STATION1",
	}, matcherDataset))
	assert.False(t, worklist.MatchParams(map[string]string{
		"00741000": "SCHEDULED",
		"00400001": "STATION2",
	}, matcherDataset))
	assert.True(t, worklist.MatchParams(map[string]string{
		"00741000": "*",
	}, matcherDataset))
}
