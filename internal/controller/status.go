/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// setCondition upserts a condition by Type into conditions, preserving
// LastTransitionTime when Status is unchanged from the existing entry.
func setCondition(conditions []metav1.Condition, next metav1.Condition) []metav1.Condition {
	if next.LastTransitionTime.IsZero() {
		next.LastTransitionTime = metav1.Now()
	}

	for i, existing := range conditions {
		if existing.Type != next.Type {
			continue
		}
		if existing.Status == next.Status {
			next.LastTransitionTime = existing.LastTransitionTime
		}
		conditions[i] = next
		return conditions
	}

	return append(conditions, next)
}
