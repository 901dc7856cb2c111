// Package kernel contains the device programs of the brute-force search
// pipeline: the matrix-vector score kernel, the group-wide top-K tournament
// reduction and the fused score+top-K kernel.
//
// All kernels follow the same discipline: out-of-range lanes are handled by
// guard conditions that substitute a -Inf sentinel candidate, and group
// barriers are always executed by every lane of a group, never inside a
// divergent branch. Scores are computed as dot products, so a higher score
// means a better match.
//
// The top-K reduction is a tournament by halving over K-sized sorted runs.
// A plain max-selection tournament cannot return the exact top-K set (two
// winners can collide in one tournament column), so each tournament cell
// carries K candidates: cells start as sorted runs of K and every round
// merges cell pairs keeping the K best, halving the number of live cells
// with ceil semantics until cell 0 holds the exact top-K of the group.
package kernel
