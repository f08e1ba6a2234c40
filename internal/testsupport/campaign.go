package testsupport

// ChainCampaign is a three-step campaign where each step waits for the
// previous one. Every step partitions into a single group with one workflow.
const ChainCampaign = `
campaign:
  class_name: campaign
  root_coll: u/test
  steps: [step1, step2, step3]
  scripts: [campaign_prepare]
step_base:
  class_name: step
  data_query: "instrument == 'LSST'"
step1:
  includes: [step_base]
step2:
  includes: [step_base]
  prerequisites: [step1]
step3:
  includes: [step_base]
  prerequisites: [step2]
group:
  class_name: group
  scripts: [group_collect, group_validate]
group_rescue:
  includes: [group]
  rescue: true
  workflow_block: workflow_rescue
workflow:
  class_name: workflow
  command: "exit 0"
  templates:
    coll_in: "{root_coll}/{fullname}/input"
    coll_out: "{root_coll}/{fullname}/output"
workflow_rescue:
  includes: [workflow]
  rescue: true
  command: "exit 0 # rescue"
campaign_prepare:
  class_name: script
  kind: prepare
  fake: true
group_collect:
  class_name: script
  kind: collect
  fake: true
group_validate:
  class_name: script
  kind: validate
  fake: true
`

// SingleStepCampaign is a campaign with one partitioned step.
const SingleStepCampaign = `
campaign:
  class_name: campaign
  root_coll: u/single
  steps: [only]
only:
  class_name: step
  data_query: "visit > 0"
  partitions: ["visit < 100", "visit >= 100"]
group:
  class_name: group
workflow:
  class_name: workflow
  command: "exit 0"
  templates:
    coll_out: "{root_coll}/{fullname}/output"
`
