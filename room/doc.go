// Package room owns the fixed set of conversational rooms, the process-wide
// current room pointer and the navigation keyword table.
//
// Navigation classification is case-insensitive substring containment. When
// a text contains several keywords the first entry in table order wins; the
// position of the keyword inside the text does not matter.
//
// Switching rooms always clears the attached conversation window, including a
// switch to the room that is already current.
package room
