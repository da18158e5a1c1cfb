package models

// VirtualRoot is the synthetic node whose completion event starts an
// execution. The trigger publishes one completion for it; the orchestrator
// treats its children as the roots of the DAG. The id is reserved and cannot
// be used by workflow nodes.
const VirtualRoot = "__root__"

// ParamsNode is the reserved node id under which trigger parameters are
// stored, so root-node configs can reference {{params.<key>}}.
const ParamsNode = "params"
