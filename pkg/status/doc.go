/*
Package status tracks the entries an operation writes into a tileset package.

	+-------------+      +-------------+
	|  Operation  | ---> |   Tracker   |
	| (writes)    |      | (per entry) |
	+-------------+      +------+------+
	                            |
	              +-------------+-------------+
	              |                           |
	        +-----+-----+               +-----+-----+
	        |  zerolog  |               |  Report   |
	        |  (debug)  |               | (console) |
	        +-----------+               +-----------+

🎯 Purpose:
- Classify each output entry (new, copied, transformed, renamed, failed)
- Keep a BLAKE3 digest and size per entry
- Report progress against the number of input entries

A nil *Tracker is valid and discards everything, so operations can record
unconditionally.
*/
package status
