// Package boot renders the iPXE scripts a Machine's boot field maps to
// (§4.8): network boot for discovery and the "network" alternative,
// sanboot from a local drive for hdN, and cdrom treated as network for
// now. Script generation is pure and does not touch storage.
package boot
