// Package addressbook is a hand-written stand-in for what capnpcore's
// (out-of-scope) schema compiler would generate for the classic
// capnproto tutorial schema:
//
//	struct Person {
//	  id @0 :UInt32;
//	  name @1 :Text;
//	  email @2 :Text;
//	  phones @3 :List(PhoneNumber);
//	  struct PhoneNumber {
//	    number @0 :Text;
//	    type @1 :Type;
//	    enum Type { mobile @0; home @1; work @2; }
//	  }
//	  employment :union {
//	    unemployed @4 :Void;
//	    employer @5 :Text;
//	    school @6 :Text;
//	    selfEmployed @7 :Void;
//	  }
//	}
//	struct AddressBook {
//	  people @0 :List(Person);
//	}
//
// exercised end to end over capnpcore's facade types, the way generated
// code would wrap Struct/List/Ptr for a typed API.
package addressbook

import (
	capnpcore "github.com/cloudflare/capnpcore"
)

// PhoneType is the PhoneNumber.type enum.
type PhoneType uint16

const (
	PhoneTypeMobile PhoneType = iota
	PhoneTypeHome
	PhoneTypeWork
)

// PhoneNumber wraps a PhoneNumber struct: a text field and an enum.
type PhoneNumber struct {
	capnpcore.Struct
}

// PhoneNumberSize is PhoneNumber's wire layout: one pointer (number), a
// 16-bit enum in the data section.
var PhoneNumberSize = capnpcore.StructSize{DataSize: 8, PointerCount: 1}

func (PhoneNumber) StructSize() capnpcore.StructSize { return PhoneNumberSize }

// NewPhoneNumber allocates a new PhoneNumber struct in seg.
func NewPhoneNumber(seg *capnpcore.Segment) (PhoneNumber, error) {
	s, err := capnpcore.NewStruct(seg, PhoneNumberSize)
	if err != nil {
		return PhoneNumber{}, err
	}
	return PhoneNumber{s}, nil
}

func (p PhoneNumber) Number() (string, error) {
	ptr, err := p.Ptr(0)
	if err != nil {
		return "", err
	}
	return ptr.Text("")
}

func (p PhoneNumber) SetNumber(v string) error {
	ptr, err := capnpcore.NewText(p.Struct.Segment(), v)
	if err != nil {
		return err
	}
	return p.SetPtr(0, ptr)
}

func (p PhoneNumber) Type() PhoneType {
	return PhoneType(p.Uint16(0, 0))
}

func (p PhoneNumber) SetType(t PhoneType) {
	p.SetUint16(0, uint16(t), 0)
}

// employment union discriminant values, matching the schema's union tag
// order (unemployed=0, employer=1, school=2, selfEmployed=3).
type employmentTag uint16

const (
	employmentUnemployed employmentTag = iota
	employmentEmployer
	employmentSchool
	employmentSelfEmployed
)

// Employment is Person's union field: exactly one of Unemployed,
// Employer, School, or SelfEmployed holds at a time.
type Employment struct {
	s capnpcore.Struct
}

func (e Employment) which() employmentTag {
	return employmentTag(e.s.Uint16(4, 0))
}

func (e Employment) IsUnemployed() bool   { return e.which() == employmentUnemployed }
func (e Employment) IsSelfEmployed() bool { return e.which() == employmentSelfEmployed }

func (e Employment) SetUnemployed() {
	e.s.SetUint16(4, uint16(employmentUnemployed), 0)
}

func (e Employment) SetSelfEmployed() {
	e.s.SetUint16(4, uint16(employmentSelfEmployed), 0)
}

// Employer returns the employer name and true, if the union is in the
// employer state.
func (e Employment) Employer() (string, bool, error) {
	if e.which() != employmentEmployer {
		return "", false, nil
	}
	ptr, err := e.s.Ptr(3)
	if err != nil {
		return "", false, err
	}
	s, err := ptr.Text("")
	return s, true, err
}

func (e Employment) SetEmployer(name string) error {
	ptr, err := capnpcore.NewText(e.s.Segment(), name)
	if err != nil {
		return err
	}
	if err := e.s.SetPtr(3, ptr); err != nil {
		return err
	}
	e.s.SetUint16(4, uint16(employmentEmployer), 0)
	return nil
}

// School returns the school name and true, if the union is in the school
// state.
func (e Employment) School() (string, bool, error) {
	if e.which() != employmentSchool {
		return "", false, nil
	}
	ptr, err := e.s.Ptr(3)
	if err != nil {
		return "", false, err
	}
	s, err := ptr.Text("")
	return s, true, err
}

func (e Employment) SetSchool(name string) error {
	ptr, err := capnpcore.NewText(e.s.Segment(), name)
	if err != nil {
		return err
	}
	if err := e.s.SetPtr(3, ptr); err != nil {
		return err
	}
	e.s.SetUint16(4, uint16(employmentSchool), 0)
	return nil
}

// Person wraps a Person struct.
type Person struct {
	capnpcore.Struct
}

// PersonSize is Person's wire layout: id (UInt32) and the employment
// union discriminant share the 8-byte data section; name, email, phones,
// and the union's text payload are the four pointers.
var PersonSize = capnpcore.StructSize{DataSize: 8, PointerCount: 4}

func (Person) StructSize() capnpcore.StructSize { return PersonSize }

// NewPerson allocates a new Person struct in seg.
func NewPerson(seg *capnpcore.Segment) (Person, error) {
	s, err := capnpcore.NewStruct(seg, PersonSize)
	if err != nil {
		return Person{}, err
	}
	return Person{s}, nil
}

func (p Person) ID() uint32 { return p.Uint32(0, 0) }

func (p Person) SetID(id uint32) { p.SetUint32(0, id, 0) }

func (p Person) Name() (string, error) {
	ptr, err := p.Ptr(0)
	if err != nil {
		return "", err
	}
	return ptr.Text("")
}

func (p Person) SetName(v string) error {
	ptr, err := capnpcore.NewText(p.Struct.Segment(), v)
	if err != nil {
		return err
	}
	return p.SetPtr(0, ptr)
}

func (p Person) Email() (string, error) {
	ptr, err := p.Ptr(1)
	if err != nil {
		return "", err
	}
	return ptr.Text("")
}

func (p Person) SetEmail(v string) error {
	ptr, err := capnpcore.NewText(p.Struct.Segment(), v)
	if err != nil {
		return err
	}
	return p.SetPtr(1, ptr)
}

// Phones returns the person's phone numbers, or an empty list if unset.
func (p Person) Phones() ([]PhoneNumber, error) {
	ptr, err := p.Ptr(2)
	if err != nil {
		return nil, err
	}
	l := ptr.List()
	out := make([]PhoneNumber, l.Len())
	for i := range out {
		out[i] = PhoneNumber{l.Struct(i)}
	}
	return out, nil
}

// NewPhones allocates a list of count phone numbers for this person.
func (p Person) NewPhones(count int32) ([]PhoneNumber, error) {
	l, err := capnpcore.NewCompositeList(p.Struct.Segment(), PhoneNumberSize, count)
	if err != nil {
		return nil, err
	}
	if err := p.SetPtr(2, l.ToPtr()); err != nil {
		return nil, err
	}
	out := make([]PhoneNumber, count)
	for i := range out {
		out[i] = PhoneNumber{l.Struct(i)}
	}
	return out, nil
}

// Employment returns this person's employment union view.
func (p Person) Employment() Employment {
	return Employment{p.Struct}
}

// AddressBook wraps an AddressBook struct: a single list of Person.
type AddressBook struct {
	capnpcore.Struct
}

// AddressBookSize is AddressBook's wire layout: one pointer (people).
var AddressBookSize = capnpcore.StructSize{PointerCount: 1}

func (AddressBook) StructSize() capnpcore.StructSize { return AddressBookSize }

// NewAddressBook allocates a new, empty AddressBook as seg's message
// root.
func NewAddressBook(seg *capnpcore.Segment) (AddressBook, error) {
	s, err := capnpcore.NewRootStruct(seg, AddressBookSize)
	if err != nil {
		return AddressBook{}, err
	}
	return AddressBook{s}, nil
}

// NewPeople allocates a list of count people for this address book.
func (ab AddressBook) NewPeople(count int32) ([]Person, error) {
	l, err := capnpcore.NewCompositeList(ab.Struct.Segment(), PersonSize, count)
	if err != nil {
		return nil, err
	}
	if err := ab.SetPtr(0, l.ToPtr()); err != nil {
		return nil, err
	}
	out := make([]Person, count)
	for i := range out {
		out[i] = Person{l.Struct(i)}
	}
	return out, nil
}

// People returns this address book's people, or an empty slice if unset.
func (ab AddressBook) People() ([]Person, error) {
	ptr, err := ab.Ptr(0)
	if err != nil {
		return nil, err
	}
	l := ptr.List()
	out := make([]Person, l.Len())
	for i := range out {
		out[i] = Person{l.Struct(i)}
	}
	return out, nil
}

// ReadAddressBook reads msg's root as an AddressBook.
func ReadAddressBook(msg *capnpcore.Message) (AddressBook, error) {
	p, err := msg.Root()
	if err != nil {
		return AddressBook{}, err
	}
	return AddressBook{p.Struct()}, nil
}
