// Package chamfer computes differentiable bidirectional nearest-neighbor
// matchings ("Chamfer-style distance") between batched point sets.
//
// Each point carries 6 coordinates: 3 positional plus 3 auxiliary, e.g.
// position and normal. The forward pass finds, for every point of one set,
// the exact nearest point of the other set by squared Euclidean distance
// over all 6 features, in both directions at once. The backward pass turns
// upstream gradients on those matched distances into per-coordinate
// gradients on both inputs, so the matching can serve as a loss term when a
// predicted point set is optimized against a reference.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	matcher, _ := chamfer.New() // host-parallel backend when available
//	defer matcher.Close()
//
//	a, _ := pointset.FromSlice(batch, n, predicted)
//	b, _ := pointset.FromSlice(batch, m, reference)
//
//	match, _ := matcher.Forward(ctx, a, b)
//	loss, _ := matcher.Loss(ctx, match)
//	grads, _ := matcher.LossBackward(ctx, a, b, match)
//
// Or as one fluent step:
//
//	res, _ := matcher.Step(a, b).Reduction(chamfer.ReductionMean).Execute(ctx)
//	fmt.Println(res.Loss)
//
// # Padded Inputs
//
// Variable-sized point clouds padded to a common per-batch count are matched
// through masks naming the occupied slots:
//
//	res, _ := matcher.Step(a, b).Masks(maskA, maskB).Execute(ctx)
//
// # Datasets
//
// Point-set pairs persist as checksummed, optionally compressed dataset
// files on any store (local disk with zero-copy mmap reads, in-memory,
// S3, MinIO), with a versioned catalog naming the current pairs:
//
//	st, _ := store.NewLocal("./data")
//	_ = dataset.Write(ctx, st, "scan-042", points, nil)
//	f, _ := dataset.Open(ctx, st, "scan-042")
//	defer f.Close()
//
// # Key Features
//
//   - Exact O(n*m) matching with float64 accumulation and deterministic
//     first-wins tie-breaks
//   - Serial and host-parallel backends behind one interface, with
//     identical match results
//   - Additive gradient scatter, antisymmetric per matched pair
//   - Masked matching for padded batches (Roaring-bitmap masks)
//   - Checksummed dataset files (None/LZ4/ZSTD block compression)
//   - S3, MinIO and DynamoDB-backed stores and catalogs
//   - Resource-governed loading: memory reservations, load slots, byte-rate
//     limits
package chamfer
