// Package sap formulates multi-body contact problems as the convex
// optimization solved by a Semi-Analytic Primal (SAP) solver.
//
// Rigid bodies are partitioned into independently actuated groups called
// cliques. Contact and friction constraints couple one or two cliques each.
// From a finalized ContactProblem the package derives the block-sparsity
// structure of the coupled system, assembles block Jacobians and
// regularization, and exposes cost, gradient and Hessian evaluators over the
// compacted velocities of the participating cliques. A Newton-type solver
// external to this package drives those evaluators to convergence.
//
// The package is generic over a scalar type so that the same formulation
// evaluates with plain float64 or with forward-mode dual numbers; see
// package scalar.
package sap
