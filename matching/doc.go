// Package matching links drivers imported from the timing source to platform
// user accounts.
//
// Matching runs in three tiers per driver and stops at the first tier that
// produces candidates: the driver's effective transponder numbers, exact
// normalized names, then fuzzy name similarity. Transponder and exact hits are
// confirmed automatically; fuzzy hits are only suggested, and near-ties between
// users are stored as conflicts for manual resolution.
//
// Effective transponders come from the Resolver, which applies transponder
// overrides recorded for mid-event equipment changes before falling back to
// the entry list and the driver's default.
package matching
