package thumbnail

// Image is the decoded-frame handoff between VideoDecoder and
// ThumbnailEncoder — deliberately opaque here so either collaborator can be
// backed by a cgo codec, an external process, or a pure-Go stub without this
// package caring.
type Image interface{}

// VideoDecoder turns one reassembled Annex-B H.264 access unit into a
// decoded image. It is an external collaborator in the same sense as
// ThumbnailEncoder below: the relay never implements an H.264 decoder
// itself, only the RFC 6184 reassembly that feeds one (see DESIGN.md's
// entry on this addition — spec.md names ThumbnailEncoder explicitly but
// is silent on what performs the decode step it presupposes).
type VideoDecoder interface {
	Decode(accessUnit []byte) (Image, error)
}

// ThumbnailEncoder is the external collaborator named in §6: given a
// decoded image, returns an encoded bytestring to be stored in the Room.
// JPEG/WebP encoding is explicitly out of scope for this module.
type ThumbnailEncoder interface {
	Encode(img Image) ([]byte, error)
}
