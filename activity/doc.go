// Package activity keeps the per-user ledger behind input hygiene: maximum
// message length, per-user cooldown, and idle eviction.
//
// Tracker decisions never mutate state on rejection. A Sweeper removes users
// that stayed idle beyond the inactivity threshold; a user swept away is
// treated as first contact on their next message.
package activity
