// Package flashsearch is a brute-force top-K vector similarity search
// engine modeled after a data-parallel accelerator. Databases are scored
// exhaustively in batches by a fused dot-product/top-K kernel running on a
// virtual device, while three command queues overlap host→device transfer,
// kernel execution and result read-back.
//
// Exhaustive scoring gives exact results: unlike approximate indexes there
// is no recall trade-off, only throughput. The engine is built for the
// regime where the database does not fit device memory and must be
// streamed through in batches.
//
// Basic usage:
//
//	s, err := flashsearch.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	db, err := vecdb.OpenMmap("vectors.vecdb")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	result, err := s.Search(ctx, db, query, 10)
package flashsearch
