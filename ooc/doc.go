/*
	Package ooc provides types, constants, and functions that have no other dependencies
	and can be used by all packages of the out-of-core data-access layer.  This includes
	axis and coordinate types, chunk identifiers, the error taxonomy shared by the volume
	and overlay packages, and leveled logging.
*/
package ooc
