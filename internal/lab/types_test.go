package lab

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabNameValidate(t *testing.T) {
	for _, name := range []string{"a", "exam-01", "team7-lab", "abcdefghijklmnopqrstuvwx"} {
		assert.NoError(t, LabName(name).Validate(), name)
	}
	for _, name := range []string{"", "-exam", "exam-", "Exam", "exam_01", "abcdefghijklmnopqrstuvwxy"} {
		assert.Error(t, LabName(name).Validate(), name)
	}
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "exam-web", ResourceName("exam", "web", 0))
	assert.Equal(t, "exam", ResourceName("exam", "", 32))
	assert.Equal(t, "exam-very-long-target", ResourceName("exam", "very-long-target-group", 21))
	assert.Equal(t, "exam-ab", ResourceName("exam", "ab-cd", 8))
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags([]string{"owner=alice", "course=net101", "empty="})
	require.NoError(t, err)
	assert.Equal(t, Tags{"owner": "alice", "course": "net101", "empty": ""}, tags)

	for _, bad := range []string{"owner", "=x", "a=b=c"} {
		_, err = ParseTags([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestCommonResourceTags(t *testing.T) {
	expiresAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("cet", 3600))
	tags := GetCommonResourceTags("exam", "exam-vpc", "run-1", expiresAt)
	assert.Equal(t, Tags{
		ManagedTagKey:   "true",
		LabNameTagKey:   "exam",
		RunIdTagKey:     "run-1",
		BlueprintTagKey: "exam-vpc",
		ExpiresAtTagKey: "2024-03-01T11:00:00Z",
	}, tags)

	parsed, ok := tags.ExpiresAt()
	require.True(t, ok)
	assert.True(t, parsed.Equal(expiresAt))

	never := GetCommonResourceTags("exam", "exam-vpc", "run-1", time.Time{})
	_, ok = never.ExpiresAt()
	assert.False(t, ok)
	_, ok = Tags{ExpiresAtTagKey: "tomorrow"}.ExpiresAt()
	assert.False(t, ok)
}

func TestTagsConversions(t *testing.T) {
	tags := Tags{"b": "2", "a": "1"}
	named := tags.WithName("exam-vpc")
	assert.Equal(t, "exam-vpc", named[NameTagKey])
	_, ok := tags[NameTagKey]
	assert.False(t, ok, "WithName must not modify the receiver")

	ec2Tags := tags.AsEc2()
	require.Len(t, ec2Tags, 2)
	assert.Equal(t, "a", aws.StringValue(ec2Tags[0].Key))
	assert.Equal(t, tags, TagsFromEc2(ec2Tags))

	specs := tags.AsEc2TagSpecifications("vpc")
	require.Len(t, specs, 1)
	assert.Equal(t, "vpc", aws.StringValue(specs[0].ResourceType))

	assert.Len(t, tags.AsElbv2(), 2)
	wafTags := tags.AsWafv2()
	require.Len(t, wafTags, 2)
	assert.Equal(t, "b", aws.StringValue(wafTags[1].Key))
}

func TestOutputs(t *testing.T) {
	outputs := &Outputs{}
	outputs.Add(Record{Region: "eu-west-1", Kind: KindVpc, Name: "main", Id: "vpc-1"})
	outputs.Add(Record{Region: "eu-west-1", Kind: KindInstance, Name: "web", Id: "i-1", PrivateIp: "10.0.1.10", Endpoint: "203.0.113.1"})
	outputs.Add(Record{Region: "eu-west-1", Kind: KindInstance, Name: "db", Id: "i-2"})

	r, err := outputs.MustGet(KindInstance, "web")
	require.NoError(t, err)
	assert.Equal(t, "i-1", r.Id)
	_, err = outputs.MustGet(KindInstance, "cache")
	assert.Error(t, err)
	_, ok := outputs.Get(KindVpc, "web")
	assert.False(t, ok)

	assert.Len(t, outputs.ByKind(KindInstance), 2)
	rows := outputs.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"eu-west-1", KindInstance, "web", "i-1", "10.0.1.10", "203.0.113.1"}, rows[1])
	assert.Len(t, rows[0], len(OutputsHeader))
}
