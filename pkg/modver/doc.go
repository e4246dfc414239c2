// SPDX-License-Identifier: MPL-2.0

// Package modver models package versions, semver families and module lines.
//
// A module line is the unit that version selection operates on: a module path
// paired with a family. Versions below 1.0 form one family per minor number
// (0.2, 0.3, ...) because minor bumps are breaking; 1.0 and later form one
// family per major number. Two lines with the same path but different
// families are independent.
//
// Versions are kept in canonical "v"-prefixed semver form. Pseudo-versions for
// untagged commits follow the v<base+1 patch>-0.<timestamp>-<commit> layout and
// order between the tag they were derived from and the next release.
package modver
