// Package record provides the value and record types moved by portalmover.
//
// A Record is an identified bag of attribute values. Values are a sealed
// set of kinds: scalars, bare identifiers, typed references and option-set
// choices. Identifiers are normalised GUID strings.
//
// This package imports nothing internal. Every other internal package
// builds on it.
//
// Key constraints:
//   - NO float values; numbers are int64
//   - Record identity (Entity, ID) is immutable once constructed
//   - Canonical JSON (MarshalCanonical) is the only encoding used for hashing
package record
