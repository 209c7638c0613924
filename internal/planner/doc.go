// Package planner turns GraphQL operations into executor plans.
//
// Every selected field becomes a step that resolves it through a Runtime:
// sync fields row by row, async fields with one batched call per bucket.
// Object values open a nullable boundary LayerPlan, lists a list item
// LayerPlan, abstract types one polymorphic LayerPlan per possible object
// type, root mutation fields one serial LayerPlan each, and @defer fragments
// a deferred LayerPlan. The matching OutputPlan tree shapes the response.
package planner
