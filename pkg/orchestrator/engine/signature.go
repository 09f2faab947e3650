// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/stepflow/orchestrator/pkg/orchestrator/config"
	"github.com/stepflow/orchestrator/pkg/orchestrator/flowctx"
)

// computeSignature produces the content-addressed fingerprint of one node's
// planned execution. Its four components are the method chain, the
// predicted implementation per method (via PredictSignature, which never
// mutates handle state), the sorted literal parameters, and the sorted
// upstream step signatures. Equal components give equal signatures; any
// difference in any component changes the hash.
func computeSignature(flow *flowctx.Flow, node *config.NodeConfig) string {
	methods := strings.Join(node.Spec.Methods, "|")

	predictions := make([]string, 0, len(node.Handles))
	for _, h := range node.Handles {
		predictions = append(predictions, h.PredictSignature())
	}

	literals := literalParams(node)
	upstream := upstreamSignatures(flow, node.Spec.Name)

	sum, _ := blake2b.New(16, nil)
	for i, part := range []string{
		methods,
		strings.Join(predictions, ";"),
		strings.Join(literals, ","),
		strings.Join(upstream, "|"),
	} {
		if i > 0 {
			sum.Write([]byte{'#'})
		}
		sum.Write([]byte(part))
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// literalParams renders the node's non-reference parameters as sorted
// "key=value" strings. Reference-valued parameters are excluded — their
// contribution to the signature flows through the upstream signatures.
func literalParams(node *config.NodeConfig) []string {
	refRaw := make(map[string]bool, len(node.InputRefs))
	for _, ref := range node.InputRefs {
		refRaw[ref.Raw] = true
	}

	var out []string
	for key, val := range node.Spec.Parameters {
		if s, ok := val.(string); ok && refRaw[s] {
			continue
		}
		out = append(out, fmt.Sprintf("%s=%v", key, val))
	}
	sort.Strings(out)
	return out
}

// upstreamSignatures collects "step:signature" for every direct
// predecessor, sorted for determinism. A predecessor with no recorded
// signature contributes "step:" so the dependency still shapes the hash.
func upstreamSignatures(flow *flowctx.Flow, step string) []string {
	preds := flow.Graph.Predecessors(step)
	out := make([]string, 0, len(preds))
	for _, pred := range preds {
		sig, _ := flow.Signature(pred)
		out = append(out, pred+":"+sig)
	}
	sort.Strings(out)
	return out
}
