package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersonRef(t *testing.T) {
	ref, err := ParsePersonRef("Student", "1001")
	require.NoError(t, err)
	assert.Equal(t, StudentRef{ID: 1001}, ref)
	assert.Equal(t, "1001", ref.Key())

	ref, err = ParsePersonRef("faculty", "8d3f3c2e-6a55-4b53-9a8b-0f5f0b1a2c3d")
	require.NoError(t, err)
	assert.Equal(t, PersonKindFaculty, ref.Kind())

	ref, err = ParsePersonRef("shs_student", "123456789012")
	require.NoError(t, err)
	assert.Equal(t, ShsStudentRef{LRN: "123456789012"}, ref)

	for _, tc := range []struct{ kind, key string }{
		{"student", "abc"},
		{"student", "-4"},
		{"faculty", "not-a-uuid"},
		{"shs_student", "12345"},
		{"parent", "1"},
		{"student", " "},
	} {
		_, err := ParsePersonRef(tc.kind, tc.key)
		assert.Error(t, err, "%s/%s", tc.kind, tc.key)
	}
}

func TestAccountPersonUnlinked(t *testing.T) {
	ref, err := Account{ID: "acc-1"}.Person()
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestClockTimeParseAndJSON(t *testing.T) {
	c, err := ParseClock("07:30:00")
	require.NoError(t, err)
	assert.Equal(t, Clock(7, 30), c)

	raw, err := json.Marshal(struct {
		Start ClockTime `json:"start"`
	}{Start: Clock(13, 5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"13:05"}`, string(raw))

	var decoded ClockTime
	require.NoError(t, json.Unmarshal([]byte(`"09:15"`), &decoded))
	assert.Equal(t, Clock(9, 15), decoded)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	assert.True(t, Overlaps(Clock(8, 0), Clock(9, 0), Clock(8, 30), Clock(9, 30)))
	assert.True(t, Overlaps(Clock(8, 0), Clock(10, 0), Clock(8, 30), Clock(9, 0)))
	assert.False(t, Overlaps(Clock(8, 0), Clock(9, 0), Clock(9, 0), Clock(10, 0)))
	assert.False(t, Overlaps(Clock(9, 0), Clock(10, 0), Clock(8, 0), Clock(9, 0)))
}

func TestNewTransferTarget(t *testing.T) {
	full := NewTransferTarget(ClassWithCount{Class: Class{ID: "a", SubjectCode: "MATH101", Section: "A", MaximumSlots: 2}, EnrolledCount: 2})
	assert.True(t, full.IsFull)
	assert.Equal(t, 0, full.AvailableSlots)
	assert.Equal(t, "MATH101 - A", full.Label)

	open := NewTransferTarget(ClassWithCount{Class: Class{ID: "b", MaximumSlots: 5}, EnrolledCount: 1})
	assert.False(t, open.IsFull)
	assert.Equal(t, 4, open.AvailableSlots)

	unlimited := NewTransferTarget(ClassWithCount{Class: Class{ID: "c"}, EnrolledCount: 40})
	assert.False(t, unlimited.IsFull)
	assert.Equal(t, -1, unlimited.AvailableSlots)
}

func TestClassSameSubjectIgnoresCaseAndSpace(t *testing.T) {
	a := Class{SubjectCode: " math101"}
	b := Class{SubjectCode: "MATH101 "}
	assert.True(t, a.SameSubject(b))
	assert.False(t, a.SameSubject(Class{SubjectCode: "ENG101"}))
}

func TestStudentFullName(t *testing.T) {
	middle := " "
	s := Student{FirstName: "Ana", MiddleName: &middle, LastName: "Reyes"}
	assert.Equal(t, "Ana Reyes", s.FullName())
}

func TestAffectedRecordsAdd(t *testing.T) {
	var a AffectedRecords
	a.Add("class_enrollments", 2)
	a.Add("students", 1)
	a.Add("class_enrollments", 1)
	assert.Equal(t, 4, a.TotalUpdated)
	assert.Equal(t, 3, a.Tables["class_enrollments"])
}
