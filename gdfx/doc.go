// Package gdfx reads the GDFX disc file system: the volume header, the
// binary search tree directories and the files they point to.
package gdfx
