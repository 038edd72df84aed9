package classify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOracle returns predetermined replies in order.
type mockOracle struct {
	replies []string
	calls   int
}

func (m *mockOracle) Classify(_ context.Context, _, _ string) (string, error) {
	if m.calls < len(m.replies) {
		reply := m.replies[m.calls]
		m.calls++
		return reply, nil
	}
	m.calls++
	return "", nil
}

func (m *mockOracle) Close() error { return nil }

func newClassifier(t *testing.T, replies ...string) *Classifier {
	t.Helper()
	c, err := New(&mockOracle{replies: replies})
	require.NoError(t, err)
	return c
}

func metaJSON(t *testing.T, disciplines []string, country string, positionType any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"disciplines":   disciplines,
		"country":       country,
		"position_type": positionType,
	})
	require.NoError(t, err)
	return string(b)
}

func TestIsRealJob_Yes(t *testing.T) {
	c := newClassifier(t, "YES")
	isJob, err := c.IsRealJob(context.Background(), "PhD position in Biology, apply now")
	require.NoError(t, err)
	assert.True(t, isJob)
}

func TestIsRealJob_No(t *testing.T) {
	c := newClassifier(t, "NO")
	isJob, err := c.IsRealJob(context.Background(), "Job searching is so frustrating")
	require.NoError(t, err)
	assert.False(t, isJob)
}

func TestIsRealJob_CaseInsensitive(t *testing.T) {
	c := newClassifier(t, "yes")
	isJob, err := c.IsRealJob(context.Background(), "PhD position")
	require.NoError(t, err)
	assert.True(t, isJob)
}

func TestIsRealJob_PartialMatch(t *testing.T) {
	c := newClassifier(t, "YES, this is a real job posting")
	isJob, err := c.IsRealJob(context.Background(), "PhD position")
	require.NoError(t, err)
	assert.True(t, isJob)
}

func TestMetadata_ValidJSON(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"Biology"}, "UK", []string{"PhD Student"}))
	meta, err := c.Metadata(context.Background(), "PhD in Biology at Oxford")
	require.NoError(t, err)
	assert.Equal(t, []string{"Biology"}, meta.Disciplines)
	assert.Equal(t, "UK", meta.Country)
	assert.Equal(t, []string{"PhD Student"}, meta.PositionTypes)
}

func TestMetadata_MultiplePositionTypes(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"Physics"}, "USA", []string{"PhD Student", "Postdoc"}))
	meta, err := c.Metadata(context.Background(), "PhD and postdoc positions at MIT")
	require.NoError(t, err)
	assert.Equal(t, []string{"PhD Student", "Postdoc"}, meta.PositionTypes)
}

func TestMetadata_StringPositionTypeCoercedToList(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"Biology"}, "UK", "PhD Student"))
	meta, err := c.Metadata(context.Background(), "PhD in Biology at Oxford")
	require.NoError(t, err)
	assert.Equal(t, []string{"PhD Student"}, meta.PositionTypes)
}

func TestMetadata_MaxThreeDisciplines(t *testing.T) {
	c := newClassifier(t, metaJSON(t,
		[]string{"Biology", "Chemistry & Materials Science", "Medicine", "Physics"},
		"UK", []string{"PhD Student"}))
	meta, err := c.Metadata(context.Background(), "Broad science PhD")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(meta.Disciplines), 3)
}

func TestMetadata_DefaultsOnInvalidJSON(t *testing.T) {
	c := newClassifier(t, "This is not valid JSON")
	meta, err := c.Metadata(context.Background(), "PhD position")
	require.NoError(t, err)
	assert.Equal(t, []string{"Other"}, meta.Disciplines)
	assert.Equal(t, "Unknown", meta.Country)
	assert.Equal(t, []string{"PhD Student"}, meta.PositionTypes)
}

func TestMetadata_DefaultsOnEmptyReply(t *testing.T) {
	c := newClassifier(t, "")
	meta, err := c.Metadata(context.Background(), "PhD position")
	require.NoError(t, err)
	assert.Equal(t, []string{"Other"}, meta.Disciplines)
	assert.Equal(t, "Unknown", meta.Country)
}

func TestMetadata_FencedJSON(t *testing.T) {
	c := newClassifier(t, "```json\n"+metaJSON(t, []string{"Physics"}, "Switzerland", []string{"Postdoc"})+"\n```")
	meta, err := c.Metadata(context.Background(), "Postdoc at CERN")
	require.NoError(t, err)
	assert.Equal(t, []string{"Physics"}, meta.Disciplines)
	assert.Equal(t, "Switzerland", meta.Country)
	assert.Equal(t, []string{"Postdoc"}, meta.PositionTypes)
}

func TestMetadata_FuzzyPositionMatch(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"Biology"}, "USA", []string{"PhD Student position"}))
	meta, err := c.Metadata(context.Background(), "PhD position in Biology")
	require.NoError(t, err)
	assert.Equal(t, []string{"PhD Student"}, meta.PositionTypes)
}

func TestMetadata_UnknownDisciplineDefaultsToOther(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"Underwater Basket Weaving"}, "Unknown", []string{"PhD Student"}))
	meta, err := c.Metadata(context.Background(), "PhD in something weird")
	require.NoError(t, err)
	assert.Equal(t, []string{"Other"}, meta.Disciplines)
}

func TestMetadata_GeneralCall(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"General call"}, "Germany", []string{"PhD Student", "Postdoc"}))
	meta, err := c.Metadata(context.Background(), "University-wide PhD program")
	require.NoError(t, err)
	assert.Equal(t, []string{"General call"}, meta.Disciplines)
	assert.Equal(t, []string{"PhD Student", "Postdoc"}, meta.PositionTypes)
}

func TestMetadata_NoDuplicateDisciplines(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"Biology", "Biology"}, "UK", []string{"PhD Student"}))
	meta, err := c.Metadata(context.Background(), "Biology PhD")
	require.NoError(t, err)
	assert.Equal(t, []string{"Biology"}, meta.Disciplines)
}

func TestMetadata_NoDuplicatePositionTypes(t *testing.T) {
	c := newClassifier(t, metaJSON(t, []string{"Biology"}, "UK", []string{"Postdoc", "Postdoc"}))
	meta, err := c.Metadata(context.Background(), "Postdoc")
	require.NoError(t, err)
	assert.Equal(t, []string{"Postdoc"}, meta.PositionTypes)
}

func TestMetadata_AllPositionTypes(t *testing.T) {
	for _, pt := range PositionTypes {
		c := newClassifier(t, metaJSON(t, []string{"Other"}, "Unknown", []string{pt}))
		meta, err := c.Metadata(context.Background(), "test")
		require.NoError(t, err)
		assert.Equal(t, []string{pt}, meta.PositionTypes)
	}
}

func TestClassifyPost_RealJobWithMetadata(t *testing.T) {
	c := newClassifier(t,
		"YES",
		metaJSON(t, []string{"Biology", "Computer Science"}, "USA", []string{"PhD Student"}))
	res, err := c.ClassifyPost(context.Background(), "PhD position in Bioinformatics at MIT", "")
	require.NoError(t, err)
	assert.True(t, res.VerifiedJob)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, []string{"Biology", "Computer Science"}, res.Metadata.Disciplines)
	assert.Equal(t, "USA", res.Metadata.Country)
}

func TestClassifyPost_NonJobSkipsMetadata(t *testing.T) {
	oracle := &mockOracle{replies: []string{"NO"}}
	c, err := New(oracle)
	require.NoError(t, err)

	res, err := c.ClassifyPost(context.Background(), "Job market is tough", "")
	require.NoError(t, err)
	assert.False(t, res.VerifiedJob)
	assert.Nil(t, res.Metadata)
	assert.Equal(t, 1, oracle.calls, "metadata call must be skipped for non-jobs")
}

func TestClassifyPost_MetadataTextUsedForExtraction(t *testing.T) {
	c := newClassifier(t,
		"YES",
		metaJSON(t, []string{"Physics"}, "Germany", []string{"Postdoc"}))
	res, err := c.ClassifyPost(context.Background(),
		"Postdoc opening, details in link",
		"[Bio: particle physicist at DESY]\n\nPostdoc opening, details in link")
	require.NoError(t, err)
	assert.True(t, res.VerifiedJob)
	assert.Equal(t, []string{"Physics"}, res.Metadata.Disciplines)
}
