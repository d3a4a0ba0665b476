// Package dataset stores batched point sets as checksummed, optionally
// compressed blobs, and organizes them into versioned source/target pairs.
//
// # File Format
//
// A dataset file is a fixed little-endian header followed by a
// block-compressed points section and an optional validity-mask section.
// The header carries the shape (batch, points per batch), the block codec,
// the section offsets, and a CRC32C over everything after the header.
//
// # Usage
//
// Writing and reading a single file:
//
//	points, _ := pointset.FromSlice(batch, count, data)
//	err := dataset.Write(ctx, st, "clouds/train-0001", points, nil)
//
//	f, err := dataset.Open(ctx, st, "clouds/train-0001")
//	defer f.Close()
//	src := f.Points()
//
// Loading source/target pairs under resource control:
//
//	loader := dataset.NewLoader(st, dataset.WithController(ctrl))
//	pair, err := loader.LoadPair(ctx, dataset.PairRef{
//	    Source: "clouds/pred-0001",
//	    Target: "clouds/gt-0001",
//	})
//	defer pair.Close()
//
// On stores with memory-mapped reads, uncompressed files are opened
// zero-copy: the point data aliases the mapping until Close.
package dataset
