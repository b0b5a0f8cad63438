// Package portal holds the closed role x portal x tenant authorization matrix.
//
// Roles and portals are enumerations rather than strings, so adding one is a
// compile-time change to the tables in this package. [Decide] is pure: it never
// touches a store and never emits audit events; the caller owns both.
package portal
