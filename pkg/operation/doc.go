/*
Package operation implements the one-shot commands of tilepack.

	+-------------+      +-------------+      +-------------+
	|   Source    | ---> |  Operation  | ---> |   Target    |
	| (package)   |      | (transform) |      | (package)   |
	+-------------+      +------+------+      +-------------+
	                            |
	                     +------+------+
	                     |   Tracker   |
	                     +-------------+

🎯 Operations:
  - Content conversions of single files: b3dmToGlb, i3dmToGlb, cmptToGlb,
    glbToB3dm, glbToI3dm, optimizeB3dm, optimizeI3dm
  - Analyze: split a tile into layout, tables and glTF JSON files
  - Convert: copy a package between backends
  - Combine: inline external tilesets
  - Merge: put several packages under one root
  - Upgrade: descriptor schema and GLB upgrade

Every operation refuses to replace existing output unless forced, and package
operations abort their output when they fail. A Runner executes operations
synchronously or in the background with cancellation.
*/
package operation
