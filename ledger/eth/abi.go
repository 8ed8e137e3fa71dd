package eth

// contractABI is the JSON ABI of the deployed insurance contract.
const contractABI = `[
 {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"policies","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
  {"name":"policyId","type":"uint256"},{"name":"policyholder","type":"address"},{"name":"planType","type":"uint8"},
  {"name":"paymentType","type":"uint8"},{"name":"coverageAmount","type":"uint256"},{"name":"deductible","type":"uint256"},
  {"name":"premium","type":"uint256"},{"name":"startDate","type":"uint256"},{"name":"endDate","type":"uint256"},
  {"name":"lastPaymentDate","type":"uint256"},{"name":"status","type":"uint8"},{"name":"ipfsHash","type":"string"},
  {"name":"totalPaid","type":"uint256"},{"name":"claimsUsed","type":"uint256"}]},
 {"type":"function","name":"claims","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
  {"name":"claimId","type":"uint256"},{"name":"policyId","type":"uint256"},{"name":"claimant","type":"address"},
  {"name":"claimAmount","type":"uint256"},{"name":"approvedAmount","type":"uint256"},{"name":"status","type":"uint8"},
  {"name":"submissionDate","type":"uint256"},{"name":"processedDate","type":"uint256"},
  {"name":"ipfsDocuments","type":"string"},{"name":"description","type":"string"}]},
 {"type":"function","name":"insurancePlans","stateMutability":"view","inputs":[{"name":"","type":"uint8"}],"outputs":[
  {"name":"planType","type":"uint8"},{"name":"oneTimePrice","type":"uint256"},{"name":"monthlyPrice","type":"uint256"},
  {"name":"coverageAmount","type":"uint256"},{"name":"deductible","type":"uint256"},{"name":"ipfsMetadata","type":"string"},
  {"name":"isActive","type":"bool"}]},
 {"type":"function","name":"authorizedDoctors","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getUserPolicies","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"getPolicyClaims","stateMutability":"view","inputs":[{"name":"policyId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"isPolicyValid","stateMutability":"view","inputs":[{"name":"policyId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getRemainingCoverage","stateMutability":"view","inputs":[{"name":"policyId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getTotalPolicies","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getTotalClaims","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getContractBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},

 {"type":"function","name":"purchasePolicy","stateMutability":"payable","inputs":[
  {"name":"planType","type":"uint8"},{"name":"paymentType","type":"uint8"},{"name":"ipfsHash","type":"string"}],"outputs":[]},
 {"type":"function","name":"payMonthlyPremium","stateMutability":"payable","inputs":[{"name":"policyId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"submitClaim","stateMutability":"nonpayable","inputs":[
  {"name":"policyId","type":"uint256"},{"name":"claimAmount","type":"uint256"},
  {"name":"ipfsDocuments","type":"string"},{"name":"description","type":"string"}],"outputs":[]},
 {"type":"function","name":"processClaim","stateMutability":"nonpayable","inputs":[
  {"name":"claimId","type":"uint256"},{"name":"approve","type":"bool"},{"name":"approvedAmount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"cancelPolicy","stateMutability":"nonpayable","inputs":[{"name":"policyId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"authorizeDoctorAddress","stateMutability":"nonpayable","inputs":[
  {"name":"doctor","type":"address"},{"name":"authorized","type":"bool"}],"outputs":[]},
 {"type":"function","name":"updateInsurancePlan","stateMutability":"nonpayable","inputs":[
  {"name":"planType","type":"uint8"},{"name":"oneTimePrice","type":"uint256"},{"name":"monthlyPrice","type":"uint256"},
  {"name":"coverageAmount","type":"uint256"},{"name":"deductible","type":"uint256"},
  {"name":"ipfsMetadata","type":"string"},{"name":"isActive","type":"bool"}],"outputs":[]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
 {"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},

 {"type":"event","name":"PolicyPurchased","anonymous":false,"inputs":[
  {"name":"policyId","type":"uint256","indexed":true},{"name":"policyholder","type":"address","indexed":true},
  {"name":"planType","type":"uint8","indexed":false},{"name":"paymentType","type":"uint8","indexed":false},
  {"name":"premium","type":"uint256","indexed":false}]},
 {"type":"event","name":"PremiumPaid","anonymous":false,"inputs":[
  {"name":"policyId","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false},
  {"name":"newEndDate","type":"uint256","indexed":false}]},
 {"type":"event","name":"ClaimSubmitted","anonymous":false,"inputs":[
  {"name":"claimId","type":"uint256","indexed":true},{"name":"policyId","type":"uint256","indexed":true},
  {"name":"claimant","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
 {"type":"event","name":"ClaimProcessed","anonymous":false,"inputs":[
  {"name":"claimId","type":"uint256","indexed":true},{"name":"status","type":"uint8","indexed":false},
  {"name":"approvedAmount","type":"uint256","indexed":false}]},
 {"type":"event","name":"DoctorAuthorized","anonymous":false,"inputs":[
  {"name":"doctor","type":"address","indexed":true},{"name":"authorized","type":"bool","indexed":false}]},
 {"type":"event","name":"PolicyCancelled","anonymous":false,"inputs":[
  {"name":"policyId","type":"uint256","indexed":true}]}
]`
