package addressbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	capnpcore "github.com/cloudflare/capnpcore"
)

func newTestMessage(t *testing.T) (*capnpcore.Message, *capnpcore.Segment) {
	t.Helper()
	msg, seg, err := capnpcore.NewMessage(capnpcore.NewMultiSegmentArena(1, capnpcore.FixedSize))
	require.NoError(t, err)
	return msg, seg
}

func TestAddressBookRoundTrip(t *testing.T) {
	_, seg := newTestMessage(t)

	ab, err := NewAddressBook(seg)
	require.NoError(t, err)

	people, err := ab.NewPeople(2)
	require.NoError(t, err)

	alice := people[0]
	alice.SetID(123)
	require.NoError(t, alice.SetName("Alice"))
	require.NoError(t, alice.SetEmail("alice@example.com"))
	phones, err := alice.NewPhones(2)
	require.NoError(t, err)
	require.NoError(t, phones[0].SetNumber("555-1234"))
	phones[0].SetType(PhoneTypeMobile)
	require.NoError(t, phones[1].SetNumber("555-5678"))
	phones[1].SetType(PhoneTypeWork)
	require.NoError(t, alice.Employment().SetEmployer("Acme Corp"))

	bob := people[1]
	bob.SetID(456)
	require.NoError(t, bob.SetName("Bob"))
	bob.Employment().SetUnemployed()

	data, err := seg.Message().Marshal()
	require.NoError(t, err)

	decoded, err := capnpcore.DecodeFromBuffer(data, capnpcore.ReaderOptions{})
	require.NoError(t, err)

	got, err := ReadAddressBook(decoded)
	require.NoError(t, err)

	gotPeople, err := got.People()
	require.NoError(t, err)
	require.Len(t, gotPeople, 2)

	gotAlice := gotPeople[0]
	assert.Equal(t, uint32(123), gotAlice.ID())
	name, err := gotAlice.Name()
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	email, err := gotAlice.Email()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	gotPhones, err := gotAlice.Phones()
	require.NoError(t, err)
	require.Len(t, gotPhones, 2)
	num0, err := gotPhones[0].Number()
	require.NoError(t, err)
	assert.Equal(t, "555-1234", num0)
	assert.Equal(t, PhoneTypeMobile, gotPhones[0].Type())
	num1, err := gotPhones[1].Number()
	require.NoError(t, err)
	assert.Equal(t, "555-5678", num1)
	assert.Equal(t, PhoneTypeWork, gotPhones[1].Type())

	employer, ok, err := gotAlice.Employment().Employer()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Acme Corp", employer)

	gotBob := gotPeople[1]
	assert.Equal(t, uint32(456), gotBob.ID())
	assert.True(t, gotBob.Employment().IsUnemployed())
}

func TestPersonWithNoPhonesReadsEmpty(t *testing.T) {
	_, seg := newTestMessage(t)
	p, err := NewPerson(seg)
	require.NoError(t, err)

	phones, err := p.Phones()
	require.NoError(t, err)
	assert.Empty(t, phones)
}

func TestEmploymentSelfEmployed(t *testing.T) {
	_, seg := newTestMessage(t)
	p, err := NewPerson(seg)
	require.NoError(t, err)

	p.Employment().SetSelfEmployed()
	assert.True(t, p.Employment().IsSelfEmployed())
	assert.False(t, p.Employment().IsUnemployed())

	_, ok, err := p.Employment().Employer()
	require.NoError(t, err)
	assert.False(t, ok)
}
